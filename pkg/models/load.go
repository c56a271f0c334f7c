package models

// FileLoadStatus mirrors the per-file status reported by a bulk ingest.
type FileLoadStatus string

const (
	FileLoadStatusLoaded          FileLoadStatus = "LOADED"
	FileLoadStatusPartiallyLoaded FileLoadStatus = "PARTIALLY_LOADED"
	FileLoadStatusLoadFailed      FileLoadStatus = "LOAD_FAILED"
)

// FileLoadResult is the ingest result row for one staged file.
type FileLoadResult struct {
	File       string         `json:"file"`
	Status     FileLoadStatus `json:"status"`
	RowsParsed int64          `json:"rows_parsed"`
	RowsLoaded int64          `json:"rows_loaded"`
	Errors     int64          `json:"errors"`
	FirstError string         `json:"first_error,omitempty"`
	// Aborted is set when the file could not be ingested at all: it was unreadable or
	// the copy itself failed. FirstError holds the cause.
	Aborted bool `json:"aborted,omitempty"`
}

// LoadStatistics aggregates a run's ingest results.
type LoadStatistics struct {
	FilesProcessed int   `json:"files_processed"`
	RowsLoaded     int64 `json:"rows_loaded"`
	RowsParsed     int64 `json:"rows_parsed"`
	Errors         int64 `json:"errors"`
}

// Add folds one file result into the statistics. Aborted files are left out entirely.
func (s *LoadStatistics) Add(result FileLoadResult) {
	if result.Aborted {
		return
	}
	s.FilesProcessed++
	s.RowsLoaded += result.RowsLoaded
	s.RowsParsed += result.RowsParsed
	s.Errors += result.Errors
}

// CompanyCount is one entry of the top companies list.
type CompanyCount struct {
	Company string `db:"company" json:"company"`
	Count   int64  `db:"complaint_count" json:"count"`
}

// ValidationResult is the outcome of the post-load validation pass.
type ValidationResult struct {
	TotalRows       int64          `json:"total_rows"`
	DuplicateIDs    int64          `json:"duplicate_ids"`
	NullIDs         int64          `json:"null_ids"`
	MinDateReceived *string        `json:"min_date_received,omitempty"`
	MaxDateReceived *string        `json:"max_date_received,omitempty"`
	TopCompanies    []CompanyCount `json:"top_companies,omitempty"`
	Passed          bool           `json:"validation_passed"`
	Issues          []string       `json:"issues,omitempty"`
}
