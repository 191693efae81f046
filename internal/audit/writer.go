package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends admin action audit records. Every record is mirrored into
// the integration outbox as a PENDING event within the same transaction, so
// downstream delivery can never observe a mutation without its audit trail.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Log writes one audit row and enqueues one outbox event inside tx.
func (w Writer) Log(ctx context.Context, tx *sql.Tx, tenantID, actor, action, aggregateType, aggregateID, reasonCode, comment string, payload Payload) error {
	ts := w.now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO audit_log(tenant_id,actor,action,aggregate_type,aggregate_id,reason_code,comment,payload_json,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		tenantID, actor, action, aggregateType, nullable(aggregateID), nullable(reasonCode), nullable(comment), string(data), ts)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	auditID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("audit record id: %w", err)
	}

	outboxPayload, err := json.Marshal(map[string]any{
		"id":            auditID,
		"tenantId":      tenantID,
		"actor":         actor,
		"action":        action,
		"aggregateType": aggregateType,
		"aggregateId":   aggregateID,
		"reasonCode":    reasonCode,
		"comment":       comment,
		"payload":       payload,
	})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO outbox_events(aggregate_type,aggregate_id,event_type,payload_json,status,attempt_count,created_at)
VALUES ('ADMIN_ACTION_AUDIT',?,?,?,'PENDING',0,?)`,
		fmt.Sprint(auditID), "ADMIN_ACTION_"+action, string(outboxPayload), ts)
	if err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
