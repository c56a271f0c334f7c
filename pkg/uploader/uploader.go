// Package uploader writes per-company extracts into the staged namespace and removes the
// extracts they supersede.
package uploader

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/metrics"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/objectstore"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

// ContentType of staged extracts.
const ContentType = "text/csv"

// Uploader uploads company extracts under prefix.
type Uploader struct {
	store  objectstore.Store
	prefix string
	logger ectologger.Logger
	now    func() time.Time
}

// NewUploader creates an uploader for the given namespace prefix.
func NewUploader(store objectstore.Store, prefix string, logger ectologger.Logger) *Uploader {
	return &Uploader{
		store:  store,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

// ObjectKey builds the staged key of a company extract created at ts.
func ObjectKey(prefix, company string, ts time.Time) string {
	return fmt.Sprintf("%s/%s_%s_complaints.csv", prefix, ts.UTC().Format(models.StagedFileTimestampLayout), models.SanitizeCompany(company))
}

// companyPattern matches every staged key of one company.
func companyPattern(prefix, company string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `/\d{8}_\d{6}_` + regexp.QuoteMeta(models.SanitizeCompany(company)) + `_complaints\.csv$`)
}

// Upload writes each company's local extract to the store, in company order, then
// removes that company's older extracts. Cleanup problems are logged and never fail the
// upload. The first upload failure stops the step and is returned together with the
// descriptors written so far.
func (u *Uploader) Upload(ctx context.Context, files map[string]string) ([]models.UploadDescriptor, error) {
	ctx, span := tracing.StartSpan(ctx, "Uploader.Upload")
	defer span.End()

	companies := make([]string, 0, len(files))
	for company := range files {
		companies = append(companies, company)
	}
	sort.Strings(companies)

	descriptors := make([]models.UploadDescriptor, 0, len(companies))
	for _, company := range companies {
		descriptor, err := u.uploadOne(ctx, company, files[company])
		if err != nil {
			metrics.FilesUploaded.WithLabelValues("failed").Inc()
			tracing.RecordError(span, err, "upload failed")
			u.logger.WithContext(ctx).WithError(err).WithField("company", company).Error("Upload failed")
			return descriptors, err
		}
		metrics.FilesUploaded.WithLabelValues("success").Inc()

		descriptor.RemovedKeys, descriptor.CleanupFailure = u.cleanup(ctx, company, descriptor.ObjectKey)
		descriptors = append(descriptors, descriptor)
	}

	span.SetAttributes(attribute.Int("upload.files", len(descriptors)))
	return descriptors, nil
}

func (u *Uploader) uploadOne(ctx context.Context, company, path string) (models.UploadDescriptor, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.UploadDescriptor{}, fmt.Errorf("failed to open extract for %s: %w", company, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return models.UploadDescriptor{}, fmt.Errorf("failed to stat extract for %s: %w", company, err)
	}

	key := ObjectKey(u.prefix, company, u.now())
	info, err := u.store.Put(ctx, key, file, stat.Size(), ContentType)
	if err != nil {
		return models.UploadDescriptor{}, fmt.Errorf("failed to upload extract for %s: %w", company, err)
	}

	u.logger.WithContext(ctx).WithFields(map[string]any{
		"company": company,
		"key":     key,
		"size":    stat.Size(),
	}).Infof("Uploaded %s to %s/%s", path, u.store.Bucket(), key)

	size := info.Size
	if size == 0 {
		size = stat.Size()
	}
	return models.UploadDescriptor{
		Company:   company,
		LocalPath: path,
		Bucket:    u.store.Bucket(),
		ObjectKey: key,
		Size:      size,
	}, nil
}

// cleanup removes every key of company except keep. It returns the removed keys and a
// description of the first failure, if any.
func (u *Uploader) cleanup(ctx context.Context, company, keep string) ([]string, string) {
	log := u.logger.WithContext(ctx).WithField("company", company)

	objects, err := u.store.List(ctx, u.prefix+"/")
	if err != nil {
		metrics.CleanupFailures.Inc()
		log.WithError(err).Warn("Could not list staged files for cleanup")
		return nil, err.Error()
	}

	pattern := companyPattern(u.prefix, company)
	var removed []string
	var failure string
	for _, object := range objects {
		if object.Key == keep || !pattern.MatchString(object.Key) {
			continue
		}
		if err := u.store.Remove(ctx, object.Key); err != nil {
			metrics.CleanupFailures.Inc()
			log.WithError(err).Warnf("Could not remove superseded file %s", object.Key)
			if failure == "" {
				failure = err.Error()
			}
			continue
		}
		log.Infof("Removed superseded file %s", object.Key)
		removed = append(removed, object.Key)
	}
	return removed, failure
}
