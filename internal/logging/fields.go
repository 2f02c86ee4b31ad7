package logging

// Standardized attribute keys shared across components.
const (
	FieldComponent = "component"
	FieldJobID     = "job_id"
	FieldBatchID   = "batch_id"
	FieldStage     = "stage"
	FieldFilename  = "filename"
	FieldStatus    = "status"
	FieldProgress  = "progress"
)
