package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"passkeygate.org/internal/auth"
	"passkeygate.org/internal/obs"
)

// Gateway audit events.
const (
	EventInitialized       = "gateway.initialized"
	EventRelayerChanged    = "trust.relayer_changed"
	EventOwnerChanged      = "trust.owner_changed"
	EventCredentialAdded   = "credential.added"
	EventCredentialRemoved = "credential.removed"
	EventActionsExecuted   = "actions.executed"
)

var ErrEmptyEvent = errors.New("audit: event name is required")

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with the request id and the
// authenticated caller and signer, when present.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return ErrEmptyEvent
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		entry["caller"] = id.Caller.String()
		entry["signer"] = id.Signer.String()
		if !id.SignerKey.IsZero() {
			entry["signer_key"] = id.SignerKey.String()
		}
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
