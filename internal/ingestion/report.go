package ingestion

// Status is the outcome of one file.
type Status string

const (
	// StatusOK means the file was parsed and every embedded fragment stored.
	// Fragments whose embedding failed are counted in Skipped.
	StatusOK Status = "ok"
	// StatusError means the file could not be parsed or stored.
	StatusError Status = "error"
)

// FileReport records the outcome of one file.
type FileReport struct {
	Name    string `json:"name"`
	Chunks  int    `json:"chunks"`
	Skipped int    `json:"skipped,omitempty"`
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Report aggregates a run. It is returned even when the run stops early.
type Report struct {
	TotalFiles  int          `json:"totalFiles"`
	TotalChunks int          `json:"totalChunks"`
	Files       []FileReport `json:"files"`
}

func (r *Report) add(f FileReport) {
	r.TotalFiles++
	r.TotalChunks += f.Chunks
	r.Files = append(r.Files, f)
}

// Failed returns the number of files with StatusError.
func (r *Report) Failed() int {
	n := 0
	for _, f := range r.Files {
		if f.Status == StatusError {
			n++
		}
	}
	return n
}
