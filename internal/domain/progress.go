package domain

// Conversion status values reported by the converter backend
const (
	ConversionStatusQueued     = "queued"
	ConversionStatusProcessing = "processing"
	ConversionStatusCompleted  = "completed"
	ConversionStatusError      = "error"
)

// ConversionResult is the payload attached to a completed conversion
type ConversionResult struct {
	Markdown  string `json:"markdown"`
	Filename  string `json:"filename"`
	FileSize  string `json:"fileSize"`
	PageCount int    `json:"pageCount"`
	Timestamp string `json:"timestamp"`
}

// ProgressReport is one response from the backend's progress endpoint
type ProgressReport struct {
	Status      string            `json:"status"`
	Progress    int               `json:"progress"`
	Stage       string            `json:"stage"`
	TotalPages  int               `json:"total_pages"`
	CurrentPage int               `json:"current_page"`
	Result      *ConversionResult `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
}
