package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID   = "user_id"
	FieldUsername = "username"
	FieldRole     = "role"

	// Domain
	FieldStreamID  = "stream_id"
	FieldTipID     = "tip_id"
	FieldMessageID = "message_id"
	FieldShowID    = "show_id"
	FieldAmount    = "amount"
	FieldChannel   = "channel"

	// Service
	FieldService = "service"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
