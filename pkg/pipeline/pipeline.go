// Package pipeline orchestrates one run: extract, transform, stage, load and validate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	appctx "github.com/MarkPhamm/consumer-complaint-pipeline/pkg/context"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/metrics"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/objectstore"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/transform"
)

// ErrValidationFailed is returned when validation fails and the run is configured to
// escalate it.
var ErrValidationFailed = errors.New("data quality validation failed")

// PostLoadError wraps a failure raised after rows were committed to the warehouse.
// A new attempt would load the same files again, so it is never retried.
type PostLoadError struct {
	Err error
}

func (e *PostLoadError) Error() string {
	return e.Err.Error()
}

func (e *PostLoadError) Unwrap() error {
	return e.Err
}

// Retryable is always false.
func (e *PostLoadError) Retryable() bool {
	return false
}

type Fetcher interface {
	FetchByDateRange(ctx context.Context, start, end time.Time, maxRecords int) ([]models.RawRecord, error)
	FetchByCompany(ctx context.Context, company string, start, end time.Time, maxRecords int) ([]models.RawRecord, error)
}

type Transformer interface {
	Transform(ctx context.Context, raw []models.RawRecord) (transform.Result, error)
}

type Uploader interface {
	Upload(ctx context.Context, files map[string]string) ([]models.UploadDescriptor, error)
}

type Resolver interface {
	Latest(ctx context.Context, store objectstore.Store) ([]models.StagedFile, error)
}

type Warehouse interface {
	Setup(ctx context.Context) error
	LoadRecords(ctx context.Context, records []models.Complaint) (int64, error)
	LoadFromFiles(ctx context.Context, files []string) (models.LoadStatistics, []models.FileLoadResult, error)
	Validate(ctx context.Context) (*models.ValidationResult, error)
}

// Company is one entry of the staged extraction list.
type Company struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Config controls a run.
type Config struct {
	Mode                  models.PipelineMode
	Companies             []Company
	LookbackDays          int
	MaxRecords            int
	DataDir               string
	FailOnValidationError bool
}

// Pipeline wires the pipeline components together.
type Pipeline struct {
	fetcher     Fetcher
	transformer Transformer
	uploader    Uploader
	resolver    Resolver
	store       objectstore.Store
	warehouse   Warehouse
	config      Config
	logger      ectologger.Logger
	now         func() time.Time
}

// NewPipeline creates a pipeline. uploader, resolver and store may be nil in direct mode.
func NewPipeline(fetcher Fetcher, transformer Transformer, uploader Uploader, resolver Resolver, store objectstore.Store, warehouse Warehouse, config Config, logger ectologger.Logger) *Pipeline {
	if config.Mode == "" {
		config.Mode = models.PipelineModeStaged
	}
	return &Pipeline{
		fetcher:     fetcher,
		transformer: transformer,
		uploader:    uploader,
		resolver:    resolver,
		store:       store,
		warehouse:   warehouse,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// Mode returns the configured load path.
func (p *Pipeline) Mode() models.PipelineMode {
	return p.config.Mode
}

// runLogger tags every line with the run the context was started for.
func (p *Pipeline) runLogger(ctx context.Context) ectologger.Logger {
	fields := map[string]any{}
	if runID := appctx.GetRunID(ctx); runID != "" {
		fields["run_id"] = runID
	}
	if trigger := appctx.GetTrigger(ctx); trigger != "" {
		fields["trigger"] = trigger
	}
	return p.logger.WithContext(ctx).WithFields(fields)
}

// Run executes one pipeline run. The outcome is returned even when the run fails, holding
// whatever the completed steps produced.
func (p *Pipeline) Run(ctx context.Context) (outcome *models.RunOutcome, err error) {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.Run")
	defer span.End()

	start := p.now()
	outcome = &models.RunOutcome{Mode: p.config.Mode}
	log := p.runLogger(ctx).WithField("mode", string(p.config.Mode))
	log.Info("Starting pipeline run")

	defer func() {
		status := string(models.RunStatusSuccess)
		if err != nil {
			status = string(models.RunStatusFailed)
			tracing.RecordError(span, err, "pipeline run failed")
		}
		metrics.RecordRun(string(p.config.Mode), status, p.now().Sub(start).Seconds())
		span.SetAttributes(
			attribute.String("pipeline.status", status),
			attribute.Int("pipeline.extracted", outcome.Extracted),
			attribute.Int64("pipeline.rows_loaded", outcome.Load.RowsLoaded),
		)
	}()

	switch p.config.Mode {
	case models.PipelineModeStaged:
		err = p.runStaged(ctx, outcome)
	case models.PipelineModeDirect:
		err = p.runDirect(ctx, outcome)
	default:
		err = fmt.Errorf("unknown pipeline mode %q", p.config.Mode)
	}
	if err != nil {
		log.WithError(err).Error("Pipeline run failed")
		return outcome, err
	}

	if err = p.validate(ctx, outcome); err != nil {
		log.WithError(err).Error("Pipeline run failed validation")
		err = &PostLoadError{Err: err}
		return outcome, err
	}

	log.WithFields(map[string]any{
		"extracted":       outcome.Extracted,
		"skipped":         outcome.Skipped,
		"uploaded":        outcome.Uploaded,
		"files_processed": outcome.Load.FilesProcessed,
		"rows_loaded":     outcome.Load.RowsLoaded,
		"row_errors":      outcome.Load.Errors,
		"duration":        p.now().Sub(start).String(),
	}).Info("Pipeline run finished")
	return outcome, nil
}

func (p *Pipeline) runStaged(ctx context.Context, outcome *models.RunOutcome) error {
	if p.uploader == nil || p.resolver == nil || p.store == nil {
		return fmt.Errorf("staged mode requires an object store")
	}

	extracts, err := p.extractCompanies(ctx, outcome)
	if err != nil {
		return err
	}

	uploads, err := p.uploader.Upload(ctx, extracts)
	outcome.Uploads = uploads
	outcome.Uploaded = len(uploads)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if err := p.warehouse.Setup(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	files, err := p.resolver.Latest(ctx, p.store)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	outcome.ResolvedFiles = ectolinq.Map(files, func(file models.StagedFile) string {
		return file.ObjectKey
	})
	if len(outcome.ResolvedFiles) == 0 {
		p.runLogger(ctx).Warn("No staged files to load")
		return nil
	}

	stats, results, err := p.warehouse.LoadFromFiles(ctx, outcome.ResolvedFiles)
	outcome.Load = stats
	outcome.FileResults = results
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	return nil
}

// extractCompanies fetches and transforms each company and writes its local extract.
// Companies with no records produce no extract.
func (p *Pipeline) extractCompanies(ctx context.Context, outcome *models.RunOutcome) (map[string]string, error) {
	log := p.runLogger(ctx)
	extracts := make(map[string]string, len(p.config.Companies))

	for _, company := range p.config.Companies {
		raw, err := p.fetcher.FetchByCompany(ctx, company.Name, company.Start, company.End, p.config.MaxRecords)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", company.Name, err)
		}

		result, err := p.transformer.Transform(ctx, raw)
		outcome.Skipped += result.Skipped
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", company.Name, err)
		}
		if len(result.Records) == 0 {
			log.WithField("company", company.Name).Warn("No complaints extracted")
			continue
		}
		outcome.Extracted += len(result.Records)

		path, err := transform.WriteCompanyExtract(p.config.DataDir, company.Name, result.Records)
		if err != nil {
			return nil, fmt.Errorf("write extract %s: %w", company.Name, err)
		}
		extracts[company.Name] = path
		log.WithField("company", company.Name).Infof("Wrote %d complaint(s) to %s", len(result.Records), path)
	}

	return extracts, nil
}

func (p *Pipeline) runDirect(ctx context.Context, outcome *models.RunOutcome) error {
	end := p.now().UTC()
	start := end.AddDate(0, 0, -p.config.LookbackDays)

	raw, err := p.fetcher.FetchByDateRange(ctx, start, end, p.config.MaxRecords)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	result, err := p.transformer.Transform(ctx, raw)
	outcome.Skipped = result.Skipped
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	outcome.Extracted = len(result.Records)

	if err := p.warehouse.Setup(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	if len(result.Records) == 0 {
		p.runLogger(ctx).Warn("No complaints to load")
		return nil
	}

	loaded, err := p.warehouse.LoadRecords(ctx, result.Records)
	outcome.Load.RowsLoaded = loaded
	outcome.Load.RowsParsed = int64(len(result.Records))
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	return nil
}

func (p *Pipeline) validate(ctx context.Context, outcome *models.RunOutcome) error {
	validation, err := p.warehouse.Validate(ctx)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	outcome.Validation = validation

	if validation.Passed {
		return nil
	}

	outcome.ValidationError = strings.Join(validation.Issues, "; ")
	if p.config.FailOnValidationError {
		return fmt.Errorf("%w: %s", ErrValidationFailed, outcome.ValidationError)
	}
	p.runLogger(ctx).Warnf("Data quality validation failed: %s", outcome.ValidationError)
	return nil
}
