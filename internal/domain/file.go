package domain

// FileStatus constants for a file moving through the conversion queue
const (
	FileStatusQueued     = "queued"
	FileStatusUploading  = "uploading"
	FileStatusProcessing = "processing"
	FileStatusCompleted  = "completed"
	FileStatusError      = "error"
	FileStatusSkipped    = "skipped"
)

// IsTerminalStatus reports whether a file status is final
func IsTerminalStatus(status string) bool {
	switch status {
	case FileStatusCompleted, FileStatusError, FileStatusSkipped:
		return true
	}
	return false
}

// FileRecord tracks one uploaded file through the conversion queue.
// Name is the unique key within the active batch. The raw bytes are
// retained so an errored file can be retried without re-uploading.
type FileRecord struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mime_type"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Stage       string `json:"stage,omitempty"`
	TotalPages  int    `json:"total_pages,omitempty"`
	CurrentPage int    `json:"current_page,omitempty"`
	Markdown    string `json:"markdown,omitempty"`
	Error       string `json:"error,omitempty"`

	// Data holds the original upload, kept for retry. Not serialized.
	Data []byte `json:"-"`
}

// Clone returns a copy of the record. The byte handle is shared, not
// copied; records never mutate it.
func (f *FileRecord) Clone() *FileRecord {
	c := *f
	return &c
}

// IncomingFile is a file handed to the queue by an upload request.
type IncomingFile struct {
	Name     string
	Size     int64
	MimeType string
	Data     []byte
}

// StatusPatch carries partial FileRecord updates. Nil fields are left
// untouched; Error uses a pointer so it can be cleared explicitly.
type StatusPatch struct {
	Status      *string
	Progress    *int
	Stage       *string
	TotalPages  *int
	CurrentPage *int
	Markdown    *string
	Error       *string
}
