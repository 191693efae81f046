package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"evalline/internal/domain"
	"evalline/internal/engine"
	"evalline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"state_conflict"`
	Message string         `json:"message" example:"only DRAFT rule definitions can be updated"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Evalline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Evalline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCapabilities(group, cfg.Engine)
	registerTenants(group, cfg.Engine)
	registerRules(group, cfg.Engine)
	registerPublishRequests(group, cfg.Engine)
	registerSimulation(group, cfg.Engine)
	registerCampaigns(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerOutbox(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var se engine.StateError
	if errors.As(err, &se) {
		code := "state_conflict"
		if strings.Contains(err.Error(), "4-eyes") {
			code = "four_eyes_violation"
		}
		return newAPIError(http.StatusConflict, code, err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unsupported"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Evalline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCapabilities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "capabilities",
		Method:      http.MethodGet,
		Path:        "/capabilities",
		Summary:     "Supported rule and audience types",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Capabilities `json:"body"`
	}, error) {
		return &struct {
			Body engine.Capabilities `json:"body"`
		}{Body: e.Capabilities()}, nil
	})
}

func registerTenants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-tenant",
		Method:        http.MethodPost,
		Path:          "/tenants",
		Summary:       "Create tenant",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTenantRequest `json:"body"`
	}) (*struct {
		Body TenantResponse `json:"body"`
	}, error) {
		t, err := e.CreateTenant(ctx, input.Body.ID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TenantResponse `json:"body"`
		}{Body: tenantResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/tenants",
		Summary:     "List tenants",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TenantResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTenants(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]TenantResponse, 0, len(items))
		for _, t := range items {
			out = append(out, tenantResponse(t))
		}
		return &struct {
			Body []TenantResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/rules",
		Summary:       "Create DRAFT rule definition",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TenantID string                `path:"tenant_id"`
		Body     RuleDefinitionRequest `json:"body"`
	}) (*struct {
		Body RuleDefinitionResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDraft(ctx, draftOptions(input.TenantID, actor, input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleDefinitionResponse `json:"body"`
		}{Body: ruleResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/rules",
		Summary:     "List rule definitions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Status   string `query:"status"`
	}) (*struct {
		Body []RuleDefinitionResponse `json:"body"`
	}, error) {
		items, err := e.ListRules(ctx, input.TenantID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RuleDefinitionResponse `json:"body"`
		}{Body: mapRules(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rule",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/rules/{rule_id}",
		Summary:     "Get rule definition",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		RuleID   string `path:"rule_id"`
	}) (*struct {
		Body RuleDefinitionResponse `json:"body"`
	}, error) {
		d, err := e.GetRule(ctx, input.TenantID, input.RuleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleDefinitionResponse `json:"body"`
		}{Body: ruleResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rule",
		Method:      http.MethodPut,
		Path:        "/tenants/{tenant_id}/rules/{rule_id}",
		Summary:     "Update DRAFT rule definition",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TenantID string                `path:"tenant_id"`
		RuleID   string                `path:"rule_id"`
		Body     RuleDefinitionRequest `json:"body"`
	}) (*struct {
		Body RuleDefinitionResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.UpdateDraft(ctx, input.RuleID, draftOptions(input.TenantID, actor, input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleDefinitionResponse `json:"body"`
		}{Body: ruleResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deprecate-rule",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/rules/{rule_id}/deprecate",
		Summary:     "Deprecate rule definition",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string               `path:"tenant_id"`
		RuleID   string               `path:"rule_id"`
		Body     DeprecateRuleRequest `json:"body"`
	}) (*struct {
		Body RuleDefinitionResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.DeprecateRule(ctx, input.TenantID, input.RuleID, input.Body.Comment, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleDefinitionResponse `json:"body"`
		}{Body: ruleResponse(d)}, nil
	})
}

func registerPublishRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-publish-request",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/rules/{rule_id}/publish-requests",
		Summary:       "Submit rule for publish approval",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TenantID string                      `path:"tenant_id"`
		RuleID   string                      `path:"rule_id"`
		Body     CreatePublishRequestRequest `json:"body"`
	}) (*struct {
		Body PublishRequestResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RequestPublish(ctx, input.TenantID, input.RuleID, input.Body.ReasonCode, input.Body.Comment, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PublishRequestResponse `json:"body"`
		}{Body: publishRequestResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-publish-requests",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/publish-requests",
		Summary:     "List publish requests",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		RuleID   string `query:"rule_id"`
	}) (*struct {
		Body []PublishRequestResponse `json:"body"`
	}, error) {
		items, err := e.ListPublishRequests(ctx, input.TenantID, input.RuleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PublishRequestResponse `json:"body"`
		}{Body: mapPublishRequests(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-publish-request",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/publish-requests/{request_id}/approve",
		Summary:     "Approve publish request",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TenantID  string                 `path:"tenant_id"`
		RequestID string                 `path:"request_id"`
		Body      PublishDecisionRequest `json:"body"`
	}) (*struct {
		Body PublishRequestResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ApprovePublish(ctx, input.TenantID, input.RequestID, input.Body.Comment, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PublishRequestResponse `json:"body"`
		}{Body: publishRequestResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-publish-request",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/publish-requests/{request_id}/reject",
		Summary:     "Reject publish request",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TenantID  string                 `path:"tenant_id"`
		RequestID string                 `path:"request_id"`
		Body      PublishDecisionRequest `json:"body"`
	}) (*struct {
		Body PublishRequestResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RejectPublish(ctx, input.TenantID, input.RequestID, input.Body.Comment, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PublishRequestResponse `json:"body"`
		}{Body: publishRequestResponse(p)}, nil
	})
}

func registerSimulation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "simulate-rule",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/rules/{rule_id}/simulate",
		Summary:     "Simulate rule against a candidate audience",
		Description: "Runs the rule without touching campaign state. Diagnostic mode also lists the pairs the rule did not select.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string          `path:"tenant_id"`
		RuleID   string          `path:"rule_id"`
		Body     SimulateRequest `json:"body"`
	}) (*struct {
		Body engine.SimulationResult `json:"body"`
	}, error) {
		res, err := e.Simulate(ctx, input.TenantID, input.RuleID, input.Body.AudienceSourceType, input.Body.AudienceSourceConfig, input.Body.DiagnosticMode)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SimulationResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerCampaigns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-campaign",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/campaigns",
		Summary:       "Create campaign",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TenantID string                `path:"tenant_id"`
		Body     CreateCampaignRequest `json:"body"`
	}) (*struct {
		Body CampaignResponse `json:"body"`
	}, error) {
		id := ""
		if input.Body.ID != nil {
			id = *input.Body.ID
		}
		c, err := e.Campaigns.CreateCampaign(ctx, domain.Campaign{
			ID:       id,
			TenantID: input.TenantID,
			Name:     input.Body.Name,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CampaignResponse `json:"body"`
		}{Body: campaignResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-campaign",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/campaigns/{campaign_id}",
		Summary:     "Get campaign",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID   string `path:"tenant_id"`
		CampaignID string `path:"campaign_id"`
	}) (*struct {
		Body CampaignResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetCampaign(ctx, input.TenantID, input.CampaignID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CampaignResponse `json:"body"`
		}{Body: campaignResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-campaign-assignments",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/campaigns/{campaign_id}/assignments",
		Summary:     "List campaign assignments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID   string `path:"tenant_id"`
		CampaignID string `path:"campaign_id"`
	}) (*struct {
		Body []AssignmentResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetCampaign(ctx, input.TenantID, input.CampaignID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAssignments(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: mapAssignments(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-campaign-assignments",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/campaigns/{campaign_id}/assignments",
		Summary:     "Publish rule-generated assignments into a campaign",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TenantID   string                    `path:"tenant_id"`
		CampaignID string                    `path:"campaign_id"`
		Body       PublishAssignmentsRequest `json:"body"`
	}) (*struct {
		Body PublishAssignmentsResponse `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.PublishAssignments(ctx, engine.PublishAssignmentsOptions{
			TenantID:             input.TenantID,
			RuleID:               input.Body.RuleID,
			CampaignID:           input.CampaignID,
			AudienceSourceType:   input.Body.AudienceSourceType,
			AudienceSourceConfig: input.Body.AudienceSourceConfig,
			ReplaceExisting:      input.Body.ReplaceExisting,
			DryRun:               input.Body.DryRun,
			Actor:                actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PublishAssignmentsResponse `json:"body"`
		}{Body: PublishAssignmentsResponse{
			CampaignID:      res.Campaign.ID,
			RuleType:        res.RuleType,
			GeneratedCount:  len(res.Generated),
			Generated:       mapAssignments(res.Generated),
			ReplaceExisting: res.ReplaceExisting,
			DryRun:          res.DryRun,
		}}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-records",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/audit",
		Summary:     "List admin action audit records",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Limit    int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.AuditRecord `json:"body"`
	}, error) {
		items, err := e.Repo.ListAuditRecords(ctx, input.TenantID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditRecord `json:"body"`
		}{Body: items}, nil
	})
}

func registerOutbox(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-outbox-events",
		Method:      http.MethodGet,
		Path:        "/outbox",
		Summary:     "List integration outbox events",
		Description: "Delivery is handled by an external dispatcher; this endpoint exists for operators.",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.OutboxEvent `json:"body"`
	}, error) {
		items, err := e.Repo.ListOutboxEvents(ctx, input.Status, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.OutboxEvent `json:"body"`
		}{Body: items}, nil
	})
}
