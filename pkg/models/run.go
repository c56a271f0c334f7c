package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/database"
)

// RunStatus represents the status of a pipeline run
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// PipelineMode selects the load path.
type PipelineMode string

const (
	PipelineModeStaged PipelineMode = "staged"
	PipelineModeDirect PipelineMode = "direct"
)

// RunOutcome is what a pipeline run reports to its host.
type RunOutcome struct {
	Mode            PipelineMode       `json:"mode"`
	Extracted       int                `json:"extracted"`
	Skipped         int                `json:"skipped"`
	Uploaded        int                `json:"uploaded"`
	Uploads         []UploadDescriptor `json:"uploads,omitempty"`
	ResolvedFiles   []string           `json:"resolved_files,omitempty"`
	Load            LoadStatistics     `json:"load"`
	FileResults     []FileLoadResult   `json:"file_results,omitempty"`
	Validation      *ValidationResult  `json:"validation,omitempty"`
	ValidationError string             `json:"validation_error,omitempty"`
}

// PipelineRun is the scheduler's history entry for one run.
type PipelineRun struct {
	ID             uuid.UUID                  `db:"id" json:"id"`
	Trigger        string                     `db:"trigger" json:"trigger"`
	Status         RunStatus                  `db:"status" json:"status"`
	Attempt        int                        `db:"attempt" json:"attempt"`
	Mode           string                     `db:"mode" json:"mode"`
	Extracted      int                        `db:"extracted" json:"extracted"`
	Uploaded       int                        `db:"uploaded" json:"uploaded"`
	FilesProcessed int                        `db:"files_processed" json:"files_processed"`
	RowsLoaded     int64                      `db:"rows_loaded" json:"rows_loaded"`
	RowsParsed     int64                      `db:"rows_parsed" json:"rows_parsed"`
	RowErrors      int64                      `db:"row_errors" json:"row_errors"`
	Outcome        database.JSONB[RunOutcome] `db:"outcome" json:"outcome"`
	ErrorMessage   *string                    `db:"error_message" json:"error_message,omitempty"`
	StartedAt      time.Time                  `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time                 `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time                  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (PipelineRun) TableName() string {
	return "pipeline_runs"
}

// StageFileFormat mirrors the file format options of an external stage.
type StageFileFormat struct {
	Type                       string   `json:"type"`
	FieldDelimiter             string   `json:"field_delimiter"`
	SkipHeader                 int      `json:"skip_header"`
	FieldOptionallyEnclosedBy  string   `json:"field_optionally_enclosed_by"`
	NullIf                     []string `json:"null_if"`
	ErrorOnColumnCountMismatch bool     `json:"error_on_column_count_mismatch"`
}

// DefaultStageFileFormat is the CSV format staged extracts are written in.
func DefaultStageFileFormat() StageFileFormat {
	return StageFileFormat{
		Type:                       "CSV",
		FieldDelimiter:             ",",
		SkipHeader:                 1,
		FieldOptionallyEnclosedBy:  `"`,
		NullIf:                     []string{"NULL", "null", ""},
		ErrorOnColumnCountMismatch: false,
	}
}

// Stage is an external stage registration pointing the warehouse at the staged namespace.
type Stage struct {
	Name       string                          `db:"name" json:"name"`
	URL        string                          `db:"url" json:"url"`
	Database   string                          `db:"database_name" json:"database_name"`
	Schema     string                          `db:"schema_name" json:"schema_name"`
	Warehouse  string                          `db:"warehouse_name" json:"warehouse_name"`
	FileFormat database.JSONB[StageFileFormat] `db:"file_format" json:"file_format"`
	CreatedAt  time.Time                       `db:"created_at" json:"created_at"`
}
