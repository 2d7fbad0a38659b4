package logging

const (
	// FieldComponent identifies the subsystem emitting the record.
	FieldComponent = "component"
	// FieldRunnerID correlates every record produced by one supervised server.
	FieldRunnerID  = "runner_id"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldStream is "stdout" or "stderr" on relayed server output.
	FieldStream = "stream"

	FieldPID           = "pid"
	FieldPort          = "port"
	FieldRequestedPort = "requested_port"
	FieldBinary        = "binary"
)
