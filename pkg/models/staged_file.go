package models

import (
	"strings"
	"time"
)

// StagedFileTimestampLayout is the timestamp embedded in staged object keys. It sorts
// lexicographically in chronological order.
const StagedFileTimestampLayout = "20060102_150405"

// StagedFile describes one extract in the object-store namespace.
type StagedFile struct {
	Company   string    `json:"company"`
	Timestamp string    `json:"timestamp"`
	ObjectKey string    `json:"object_key"`
	Size      int64     `json:"size,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UploadDescriptor is returned for every extract written by the uploader.
type UploadDescriptor struct {
	Company        string   `json:"company"`
	LocalPath      string   `json:"local_path"`
	Bucket         string   `json:"bucket"`
	ObjectKey      string   `json:"object_key"`
	Size           int64    `json:"size"`
	RemovedKeys    []string `json:"removed_keys,omitempty"`
	CleanupFailure string   `json:"cleanup_failure,omitempty"`
}

// SanitizeCompany lowercases the company name and replaces spaces with underscores.
func SanitizeCompany(company string) string {
	return strings.ReplaceAll(strings.ToLower(company), " ", "_")
}
