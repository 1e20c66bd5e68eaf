package logging

import (
	"context"
	"log/slog"
)

// AuditEvent records an action taken on behalf of a wallet.
type AuditEvent struct {
	Operation string // presale_buy, presale_claim, referral_recorded, tier_changed
	Actor     string
	Target    string
	Result    string // success or failure
	Details   string
}

// Audit writes event as an "audit" record. The fields sit in an audit group
// so log shippers can route them apart from operational logs.
func Audit(event AuditEvent) {
	attrs := []any{
		slog.String("op", event.Operation),
		slog.String("actor", event.Actor),
		slog.String("result", event.Result),
	}
	if event.Target != "" {
		attrs = append(attrs, slog.String("target", event.Target))
	}
	if event.Details != "" {
		attrs = append(attrs, slog.String("details", event.Details))
	}
	Logger().LogAttrs(context.Background(), slog.LevelInfo, "audit", slog.Group("audit", attrs...))
}
