package model

// BulkResult is the per-item accounting of one bulk mutation.
type BulkResult struct {
	Updated     int      `json:"updated"`
	Skipped     int      `json:"skipped"`
	NotFound    int      `json:"notFound"`
	Failed      int      `json:"failed,omitempty"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// DeleteResult reports a bulk delete.
type DeleteResult struct {
	Deleted     int      `json:"deleted"`
	NotFound    int      `json:"notFound"`
	Failed      int      `json:"failed,omitempty"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// ImportResult reports one import batch.
type ImportResult struct {
	Imported    int      `json:"imported"`
	Duplicates  int      `json:"duplicates"`
	Updated     int      `json:"updated"`
	Errored     int      `json:"errored"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}
