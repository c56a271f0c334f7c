package warehouse

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/metrics"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

// LoadFromFiles ingests staged files through the registered stage, one file at a time.
// Rows that cannot be parsed or stored are counted as errors and skipped. A file that
// cannot be read or copied is reported as LOAD_FAILED and the next file is processed.
// Every call appends; files loaded before are loaded again.
func (w *Warehouse) LoadFromFiles(ctx context.Context, files []string) (models.LoadStatistics, []models.FileLoadResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Warehouse.LoadFromFiles")
	defer span.End()

	var stats models.LoadStatistics
	stage, err := w.stages.Get(ctx, w.config.Stage)
	if err != nil {
		tracing.RecordError(span, err, "stage lookup failed")
		return stats, nil, fmt.Errorf("failed to read stage %s: %w", w.config.Stage, err)
	}
	location, err := parseStageURL(stage.URL)
	if err != nil {
		return stats, nil, err
	}

	log := w.logger.WithContext(ctx).WithField("stage", stage.Name)
	if location.bucket != w.store.Bucket() {
		log.Warnf("Stage bucket %s differs from the configured bucket %s", location.bucket, w.store.Bucket())
	}

	format := stage.FileFormat.GetValue()
	results := make([]models.FileLoadResult, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return stats, results, err
		}

		result := w.loadFile(ctx, log, location, format, file)
		results = append(results, result)
		stats.Add(result)
		metrics.RecordFileLoad(string(result.Status), result.RowsLoaded, result.Errors)

		fileLog := log.WithFields(map[string]any{
			"file":        result.File,
			"status":      result.Status,
			"rows_parsed": result.RowsParsed,
			"rows_loaded": result.RowsLoaded,
			"errors":      result.Errors,
		})
		switch result.Status {
		case models.FileLoadStatusLoadFailed:
			fileLog.Errorf("Load failed for %s: %s", result.File, result.FirstError)
		case models.FileLoadStatusPartiallyLoaded:
			fileLog.Warnf("Partially loaded %s: first error %s", result.File, result.FirstError)
		default:
			fileLog.Infof("Loaded %s", result.File)
		}
	}

	span.SetAttributes(
		attribute.Int("load.files", stats.FilesProcessed),
		attribute.Int64("load.rows", stats.RowsLoaded),
		attribute.Int64("load.errors", stats.Errors),
	)
	log.Infof("Ingested %d file(s): %d row(s) loaded, %d error(s)", stats.FilesProcessed, stats.RowsLoaded, stats.Errors)
	return stats, results, nil
}

type stageLocation struct {
	bucket string
	prefix string
}

func parseStageURL(raw string) (stageLocation, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return stageLocation{}, fmt.Errorf("invalid stage url %q", raw)
	}
	return stageLocation{bucket: u.Host, prefix: strings.Trim(u.Path, "/")}, nil
}

// key resolves a file name relative to the stage location. Keys that already carry the
// stage prefix are used as they are.
func (l stageLocation) key(file string) string {
	file = strings.TrimPrefix(file, "/")
	if l.prefix == "" || strings.HasPrefix(file, l.prefix+"/") {
		return file
	}
	return l.prefix + "/" + file
}

func (l stageLocation) url(key string) string {
	return fmt.Sprintf("s3://%s/%s", l.bucket, key)
}

func (w *Warehouse) loadFile(ctx context.Context, log ectologger.Logger, location stageLocation, format models.StageFileFormat, file string) models.FileLoadResult {
	key := location.key(file)
	result := models.FileLoadResult{File: location.url(key)}

	body, err := w.store.Get(ctx, key)
	if err != nil {
		return aborted(result, err)
	}
	defer body.Close()

	parsed := parseStagedCSV(body, format)
	result.RowsParsed = parsed.rowsParsed
	result.Errors = int64(len(parsed.rowErrors))
	if len(parsed.rowErrors) > 0 {
		result.FirstError = parsed.rowErrors[0]
		log.Debugf("%s: %d rejected row(s)", result.File, len(parsed.rowErrors))
	}
	if parsed.readErr != nil {
		return aborted(result, parsed.readErr)
	}

	if len(parsed.rows) > 0 {
		loaded, err := w.copier.CopyRows(ctx, w.Table(), models.StagedColumns, parsed.rows)
		if err != nil {
			return aborted(result, err)
		}
		result.RowsLoaded = loaded
	}

	switch {
	case result.Errors == 0:
		result.Status = models.FileLoadStatusLoaded
	case result.RowsLoaded > 0:
		result.Status = models.FileLoadStatusPartiallyLoaded
	default:
		result.Status = models.FileLoadStatusLoadFailed
	}
	return result
}

// aborted marks a file that could not be ingested. Its rows count neither as loaded nor
// as row errors.
func aborted(result models.FileLoadResult, err error) models.FileLoadResult {
	result.Status = models.FileLoadStatusLoadFailed
	result.Aborted = true
	result.RowsLoaded = 0
	result.FirstError = err.Error()
	return result
}

type parsedFile struct {
	rows       [][]any
	rowsParsed int64
	rowErrors  []string
	readErr    error
}

// parseStagedCSV reads positional rows per the stage file format. Header lines are
// skipped, short rows padded with nulls and long rows truncated unless the format asks
// for a column count error.
func parseStagedCSV(r io.Reader, format models.StageFileFormat) parsedFile {
	reader := csv.NewReader(r)
	if delimiter := []rune(format.FieldDelimiter); len(delimiter) == 1 {
		reader.Comma = delimiter[0]
	}
	reader.FieldsPerRecord = -1

	var parsed parsedFile
	for line := 0; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return parsed
		}
		if line < format.SkipHeader {
			continue
		}

		parsed.rowsParsed++
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				parsed.readErr = err
				return parsed
			}
			parsed.rowErrors = append(parsed.rowErrors, parseErr.Error())
			continue
		}

		if format.ErrorOnColumnCountMismatch && len(record) != len(models.StagedColumns) {
			parsed.rowErrors = append(parsed.rowErrors, fmt.Sprintf("record %d: expected %d columns, found %d", parsed.rowsParsed, len(models.StagedColumns), len(record)))
			continue
		}

		row, err := convertRow(positional(record, format.NullIf))
		if err != nil {
			parsed.rowErrors = append(parsed.rowErrors, fmt.Sprintf("record %d: %v", parsed.rowsParsed, err))
			continue
		}
		parsed.rows = append(parsed.rows, row)
	}
}

func positional(record []string, nullIf []string) []*string {
	values := make([]*string, len(models.StagedColumns))
	for i := range values {
		if i >= len(record) || slices.Contains(nullIf, record[i]) {
			continue
		}
		value := record[i]
		values[i] = &value
	}
	return values
}
