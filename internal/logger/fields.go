package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldSource is the component name of a source provider
	FieldSource = "source"

	// FieldToken is the identity token presented by a publishing source
	FieldToken = "token"

	// FieldArtworkID is the generated artwork ID
	FieldArtworkID = "artwork_id"

	// FieldDownloadID is the artwork download record ID
	FieldDownloadID = "download_id"

	// FieldWorker is the download worker index
	FieldWorker = "worker"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldAttempt is the retry attempt number
	FieldAttempt = "attempt"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
