package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"evalline/internal/config"
	"evalline/internal/db"
	"evalline/internal/engine"
	"evalline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	for _, id := range []string{"acme", "globex"} {
		if _, err := e.CreateTenant(context.Background(), id, id); err != nil {
			t.Fatalf("create tenant %s: %v", id, err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers == nil {
		headers = map[string]string{"X-Actor-Id": "alice"}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func inlineAudience() map[string]any {
	return map[string]any{
		"participants": []any{
			map[string]any{"userId": "u1", "department": "legal"},
			map[string]any{"userId": "u2", "department": "legal"},
			map[string]any{"userId": "u3", "department": "legal"},
		},
	}
}

func createRuleHTTP(t *testing.T, srv *testServer) RuleDefinitionResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tenants/acme/rules", map[string]any{
		"name":             "peer review",
		"semantic_version": "1.0.0",
		"rule_type":        "ALL_TO_ALL",
		"rule_config":      map[string]any{"evaluatorRole": "PEER"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status %d: %s", res.StatusCode, string(data))
	}
	var created RuleDefinitionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal rule: %v", err)
	}
	return created
}

func TestRuleApprovalLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createRuleHTTP(t, srv)
	if created.Status != "DRAFT" {
		t.Fatalf("status = %s, want DRAFT", created.Status)
	}

	reqRes, reqData := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tenants/acme/rules/"+created.ID+"/publish-requests", map[string]any{
		"reason_code": "ROLLOUT",
	}, nil)
	if reqRes.StatusCode != http.StatusCreated {
		t.Fatalf("publish request status %d: %s", reqRes.StatusCode, string(reqData))
	}
	var pubReq PublishRequestResponse
	if err := json.Unmarshal(reqData, &pubReq); err != nil {
		t.Fatalf("unmarshal publish request: %v", err)
	}

	// same actor approving must be rejected with the four-eyes code
	denyRes, denyData := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tenants/acme/publish-requests/"+pubReq.ID+"/approve", map[string]any{}, nil)
	if denyRes.StatusCode != http.StatusConflict {
		t.Fatalf("self approve status %d: %s", denyRes.StatusCode, string(denyData))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(denyData, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "four_eyes_violation" {
		t.Fatalf("error code = %s: %s", envelope.Error.Code, string(denyData))
	}

	okRes, okData := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tenants/acme/publish-requests/"+pubReq.ID+"/approve", map[string]any{
		"comment": "ship it",
	}, map[string]string{"X-Actor-Id": "bob"})
	if okRes.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", okRes.StatusCode, string(okData))
	}

	getRes, getData := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tenants/acme/rules/"+created.ID, nil, nil)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get rule status %d: %s", getRes.StatusCode, string(getData))
	}
	var fetched RuleDefinitionResponse
	if err := json.Unmarshal(getData, &fetched); err != nil {
		t.Fatalf("unmarshal fetched rule: %v", err)
	}
	if fetched.Status != "PUBLISHED" || fetched.PublishedAt == nil {
		t.Fatalf("fetched = %+v", fetched)
	}
}

func TestBadSemanticVersionRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tenants/acme/rules", map[string]any{
		"name":             "peer review",
		"semantic_version": "1.0",
		"rule_type":        "ALL_TO_ALL",
		"rule_config":      map[string]any{"evaluatorRole": "PEER"},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestCrossTenantRuleReturns404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	created := createRuleHTTP(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tenants/globex/rules/"+created.ID, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestSimulateEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	created := createRuleHTTP(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tenants/acme/rules/"+created.ID+"/simulate", map[string]any{
		"audience_source_type":   "INLINE",
		"audience_source_config": inlineAudience(),
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("simulate status %d: %s", res.StatusCode, string(data))
	}
	var sim engine.SimulationResult
	if err := json.Unmarshal(data, &sim); err != nil {
		t.Fatalf("unmarshal simulation: %v", err)
	}
	// 3 participants all-to-all without self: 6 pairs
	if sim.MatchCount != 6 {
		t.Fatalf("matchCount = %d: %s", sim.MatchCount, string(data))
	}
}

func TestPublishAssignmentsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createRuleHTTP(t, srv)
	reqRes, reqData := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tenants/acme/rules/"+created.ID+"/publish-requests", map[string]any{}, nil)
	if reqRes.StatusCode != http.StatusCreated {
		t.Fatalf("publish request status %d: %s", reqRes.StatusCode, string(reqData))
	}
	var pubReq PublishRequestResponse
	_ = json.Unmarshal(reqData, &pubReq)
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tenants/acme/publish-requests/"+pubReq.ID+"/approve", map[string]any{}, map[string]string{"X-Actor-Id": "bob"}); res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}

	campRes, campData := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tenants/acme/campaigns", map[string]any{
		"name": "q1 review",
	}, nil)
	if campRes.StatusCode != http.StatusCreated {
		t.Fatalf("create campaign status %d: %s", campRes.StatusCode, string(campData))
	}
	var camp CampaignResponse
	if err := json.Unmarshal(campData, &camp); err != nil {
		t.Fatalf("unmarshal campaign: %v", err)
	}

	pubRes, pubData := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tenants/acme/campaigns/"+camp.ID+"/assignments", map[string]any{
		"rule_id":                created.ID,
		"audience_source_type":   "INLINE",
		"audience_source_config": inlineAudience(),
	}, nil)
	if pubRes.StatusCode != http.StatusOK {
		t.Fatalf("publish assignments status %d: %s", pubRes.StatusCode, string(pubData))
	}
	var published PublishAssignmentsResponse
	if err := json.Unmarshal(pubData, &published); err != nil {
		t.Fatalf("unmarshal publish response: %v", err)
	}
	if published.GeneratedCount != 6 {
		t.Fatalf("generatedCount = %d: %s", published.GeneratedCount, string(pubData))
	}

	listRes, listData := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tenants/acme/campaigns/"+camp.ID+"/assignments", nil, nil)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list assignments status %d: %s", listRes.StatusCode, string(listData))
	}
	var listed []AssignmentResponse
	if err := json.Unmarshal(listData, &listed); err != nil {
		t.Fatalf("unmarshal assignments: %v", err)
	}
	if len(listed) != 6 {
		t.Fatalf("listed = %d, want 6", len(listed))
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tenants/acme/rules", nil, map[string]string{})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, map[string]string{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}
