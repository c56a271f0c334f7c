package transform

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
)

// WriteCSV writes a header row and one row per record in models.StagedColumns order.
// Null fields are written as empty cells.
func WriteCSV(w io.Writer, records []models.Complaint) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(models.StagedColumns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	row := make([]string, len(models.StagedColumns))
	for i := range records {
		for j, column := range models.StagedColumns {
			row[j] = ""
			if value := records[i].Field(column); value != nil {
				row[j] = *value
			}
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", i+1, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// ExtractFileName is the local file name of a company extract.
func ExtractFileName(company string) string {
	return models.SanitizeCompany(company) + "_complaints.csv"
}

// WriteCompanyExtract writes the records of one company to {dir}/{company}_complaints.csv
// and returns the file path.
func WriteCompanyExtract(dir, company string, records []models.Complaint) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create extract directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, ExtractFileName(company))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create extract %s: %w", path, err)
	}

	if err := WriteCSV(file, records); err != nil {
		_ = file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close extract %s: %w", path, err)
	}
	return path, nil
}
