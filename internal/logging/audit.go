package logging

// AuditEvent records a privileged on-chain action
type AuditEvent struct {
	Operation string // e.g. "timelock_schedule", "proxy_upgrade", "initialize"
	Network   string
	Actor     string // sender address
	Target    string // contract address
	TxHash    string
	Result    string // "success" or "failure"
	Details   string
}

// Audit logs a privileged operation with structured fields.
// Audit events are logged at Info level with an "audit" attribute
// to distinguish them from regular logs.
func Audit(event AuditEvent) {
	Logger().Info("audit",
		"audit", true,
		"operation", event.Operation,
		"network", event.Network,
		"actor", event.Actor,
		"target", event.Target,
		"tx", event.TxHash,
		"result", event.Result,
		"details", event.Details,
	)
}
