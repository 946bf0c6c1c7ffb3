package logging

// Audit results
const (
	AuditSuccess = "success"
	AuditFailure = "failure"
)

// AuditEvent records a ledger-mutating redeem operation.
type AuditEvent struct {
	Operation string // redeem_requested, redeem_executed
	Signer    string
	RequestID string // empty when no request was created
	Provider  string
	Amount    string
	Result    string // AuditSuccess or AuditFailure
	Details   string
}

// Audit logs e at info level tagged audit=true. Empty optional fields are omitted.
func Audit(e AuditEvent) {
	args := []any{
		"audit", true,
		"operation", e.Operation,
		"signer", e.Signer,
		"result", e.Result,
	}
	if e.RequestID != "" {
		args = append(args, RequestID(e.RequestID))
	}
	if e.Provider != "" {
		args = append(args, Provider(e.Provider))
	}
	if e.Amount != "" {
		args = append(args, "amount", e.Amount)
	}
	if e.Details != "" {
		args = append(args, "details", e.Details)
	}
	Logger().Info("audit", args...)
}
