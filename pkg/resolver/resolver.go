// Package resolver picks the most recent staged extract of every company from a
// namespace listing.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/objectstore"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

func keyPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `/(\d{8}_\d{6})_(.+?)_complaints\.csv$`)
}

// Resolve returns one key per company, the one with the greatest embedded timestamp,
// ordered by company. Keys that do not follow the staged naming pattern are ignored.
func Resolve(keys []string, prefix string) []string {
	return ectolinq.Map(ResolveFiles(keys, prefix), func(file models.StagedFile) string {
		return file.ObjectKey
	})
}

// ResolveFiles is Resolve returning full descriptors.
func ResolveFiles(keys []string, prefix string) []models.StagedFile {
	return resolveObjects(ectolinq.Map(keys, func(key string) objectstore.ObjectInfo {
		return objectstore.ObjectInfo{Key: key}
	}), prefix)
}

// resolveObjects keeps the first object seen for each company unless a later one carries a
// strictly greater timestamp.
func resolveObjects(objects []objectstore.ObjectInfo, prefix string) []models.StagedFile {
	pattern := keyPattern(prefix)
	latest := make(map[string]models.StagedFile)

	for _, object := range objects {
		match := pattern.FindStringSubmatch(object.Key)
		if match == nil {
			continue
		}
		timestamp, company := match[1], match[2]

		current, seen := latest[company]
		if seen && timestamp <= current.Timestamp {
			continue
		}

		createdAt, err := time.ParseInLocation(models.StagedFileTimestampLayout, timestamp, time.UTC)
		if err != nil {
			// digits that are not a calendar time still order correctly as strings
			createdAt = time.Time{}
		}
		latest[company] = models.StagedFile{
			Company:   company,
			Timestamp: timestamp,
			ObjectKey: object.Key,
			Size:      object.Size,
			CreatedAt: createdAt,
		}
	}

	files := make([]models.StagedFile, 0, len(latest))
	for _, file := range latest {
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Company < files[j].Company })
	return files
}

// Resolver resolves against a live object store.
type Resolver struct {
	prefix string
	logger ectologger.Logger
}

// NewResolver creates a resolver for the namespace prefix.
func NewResolver(prefix string, logger ectologger.Logger) *Resolver {
	return &Resolver{prefix: prefix, logger: logger}
}

// Latest lists the namespace and returns the most recent extract of every company.
func (r *Resolver) Latest(ctx context.Context, store objectstore.Store) ([]models.StagedFile, error) {
	ctx, span := tracing.StartSpan(ctx, "Resolver.Latest")
	defer span.End()

	objects, err := store.List(ctx, r.prefix+"/")
	if err != nil {
		tracing.RecordError(span, err, "list failed")
		return nil, fmt.Errorf("failed to list staged files: %w", err)
	}

	files := resolveObjects(objects, r.prefix)
	log := r.logger.WithContext(ctx)
	for _, file := range files {
		log.WithField("company", file.Company).Infof("Resolved latest staged file %s", file.ObjectKey)
	}
	log.Infof("Resolved %d staged file(s) from %d object(s)", len(files), len(objects))
	return files, nil
}
