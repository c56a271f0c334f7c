package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// CompanyConfig is one entry of the per-company extraction list.
type CompanyConfig struct {
	Name      string `yaml:"name" json:"name" validate:"required"`
	StartDate string `yaml:"start_date" json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `yaml:"end_date" json:"end_date" validate:"required,datetime=2006-01-02"`
}

type companiesFile struct {
	Companies []CompanyConfig `yaml:"companies"`
}

// DefaultCompanies is used when no company list file exists.
func DefaultCompanies() []CompanyConfig {
	return []CompanyConfig{
		{Name: "jpmorgan", StartDate: "2024-01-01", EndDate: "2025-12-31"},
		{Name: "bank of america", StartDate: "2024-01-01", EndDate: "2025-12-31"},
	}
}

// LoadCompanies reads the YAML company list at path. A missing file yields the defaults;
// a file that exists but cannot be parsed is an error.
func LoadCompanies(path string) ([]CompanyConfig, error) {
	if path == "" {
		return DefaultCompanies(), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultCompanies(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read companies file %s: %w", path, err)
	}

	var file companiesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: companies file %s: %v", ErrInvalidConfig, path, err)
	}
	if len(file.Companies) == 0 {
		return nil, fmt.Errorf("%w: companies file %s lists no companies", ErrInvalidConfig, path)
	}
	return file.Companies, nil
}

// Start parses StartDate.
func (c CompanyConfig) Start() (time.Time, error) {
	return time.Parse(dateLayout, c.StartDate)
}

// End parses EndDate.
func (c CompanyConfig) End() (time.Time, error) {
	return time.Parse(dateLayout, c.EndDate)
}

func (c CompanyConfig) validateRange() error {
	start, err := c.Start()
	if err != nil {
		return fmt.Errorf("company %q: start_date: %w", c.Name, err)
	}
	end, err := c.End()
	if err != nil {
		return fmt.Errorf("company %q: end_date: %w", c.Name, err)
	}
	if end.Before(start) {
		return fmt.Errorf("company %q: end_date %s is before start_date %s", c.Name, c.EndDate, c.StartDate)
	}
	return nil
}
