package logging

// Standard attribute keys. Keep these stable: operators filter tsusu.log on
// them.
const (
	FieldComponent = "component"
	// FieldEventType classifies a line for filtering, e.g. "session_dropped".
	FieldEventType = "event_type"
	// FieldErrorHint is the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact    = "impact"
	FieldSessionID = "session_id"
	FieldSocket    = "socket"
	FieldPIDPath   = "pid_path"
	FieldPID       = "pid"
)
