package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/expressions"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/httpclient"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/metrics"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

const (
	// DefaultBaseURL is the CFPB consumer complaint search API.
	DefaultBaseURL = "https://www.consumerfinance.gov/data-research/consumer-complaints/search/api/v1/"

	// MaxPageSize is the largest page the API serves. Only the first page is fetched.
	MaxPageSize = 10000

	// UserAgent is required; the API rejects requests without one.
	UserAgent = "Mozilla/5.0 (compatible; ConsumerComplaintETL/1.0)"

	// DefaultSort returns the newest complaints first.
	DefaultSort = "created_date_desc"

	dateLayout = "2006-01-02"
)

// EarliestComplaintDate is the first date the complaint database has records for; it is
// the default start of a company search.
var EarliestComplaintDate = time.Date(2011, time.December, 1, 0, 0, 0, 0, time.UTC)

var envelopeExpressions = []string{
	"hits.hits",
	"@",
}

// HTTPGetter is the transport the fetcher depends on.
type HTTPGetter interface {
	Get(ctx context.Context, url string, headers map[string]string) (*httpclient.Response, error)
}

// Fetcher retrieves raw complaint records from the search API.
type Fetcher struct {
	client    HTTPGetter
	evaluator *expressions.Evaluator
	baseURL   string
	logger    ectologger.Logger
	now       func() time.Time
}

// NewFetcher creates a fetcher against baseURL (DefaultBaseURL when empty).
func NewFetcher(client HTTPGetter, evaluator *expressions.Evaluator, baseURL string, logger ectologger.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if evaluator == nil {
		evaluator = expressions.NewEvaluator()
	}
	return &Fetcher{
		client:    client,
		evaluator: evaluator,
		baseURL:   baseURL,
		logger:    logger,
		now:       time.Now,
	}
}

// Query describes one search request.
type Query struct {
	DateReceivedMin time.Time
	DateReceivedMax time.Time
	SearchTerm      string
	// MaxRecords caps the page size. Zero or anything above MaxPageSize means MaxPageSize.
	MaxRecords int
}

// FetchByDateRange fetches complaints received between start and end inclusive.
func (f *Fetcher) FetchByDateRange(ctx context.Context, start, end time.Time, maxRecords int) ([]models.RawRecord, error) {
	return f.Fetch(ctx, Query{DateReceivedMin: start, DateReceivedMax: end, MaxRecords: maxRecords})
}

// FetchByCompany fetches complaints whose company matches the search term. Zero dates
// default to EarliestComplaintDate and today.
func (f *Fetcher) FetchByCompany(ctx context.Context, company string, start, end time.Time, maxRecords int) ([]models.RawRecord, error) {
	if start.IsZero() {
		start = EarliestComplaintDate
	}
	if end.IsZero() {
		end = f.now().UTC()
	}
	return f.Fetch(ctx, Query{DateReceivedMin: start, DateReceivedMax: end, SearchTerm: company, MaxRecords: maxRecords})
}

// Fetch issues a single search request and returns the records it carries. Results beyond
// the first page are not retrieved.
func (f *Fetcher) Fetch(ctx context.Context, query Query) ([]models.RawRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "Fetcher.Fetch")
	defer span.End()

	requestURL, err := f.buildURL(query)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("fetch.search_term", query.SearchTerm))

	log := f.logger.WithContext(ctx).WithFields(map[string]any{
		"search_term":       query.SearchTerm,
		"date_received_min": formatDate(query.DateReceivedMin),
		"date_received_max": formatDate(query.DateReceivedMax),
	})
	log.Infof("Fetching complaints: %s", requestURL)

	resp, err := f.client.Get(ctx, requestURL, map[string]string{
		"User-Agent": UserAgent,
		"Accept":     "application/json",
	})
	if err != nil {
		tracing.RecordError(span, err, "fetch failed")
		log.WithError(err).Error("Complaint fetch failed")
		return nil, fmt.Errorf("failed to fetch complaints: %w", err)
	}

	body, err := httpclient.DecodeJSON(resp)
	if err != nil {
		tracing.RecordError(span, err, "decode failed")
		return nil, fmt.Errorf("failed to decode complaints response: %w", err)
	}

	records, err := f.normalize(body)
	if err != nil {
		return nil, err
	}

	label := query.SearchTerm
	if label == "" {
		label = "all"
	}
	metrics.RecordsFetched.WithLabelValues(label).Add(float64(len(records)))
	span.SetAttributes(attribute.Int("fetch.records", len(records)))
	log.Infof("Fetched %d complaints", len(records))
	return records, nil
}

// normalize unwraps either a list of hit envelopes or an object carrying hits.hits.
// Any other shape yields no records.
func (f *Fetcher) normalize(body any) ([]models.RawRecord, error) {
	var expression string
	switch body.(type) {
	case map[string]any:
		expression = envelopeExpressions[0]
	case []any:
		expression = envelopeExpressions[1]
	default:
		return []models.RawRecord{}, nil
	}

	hits, _, err := f.evaluator.Objects(expression, body)
	if err != nil {
		return nil, err
	}

	// a hit without a _source object becomes an empty record, which the transform skips
	records := make([]models.RawRecord, 0, len(hits))
	for _, hit := range hits {
		source, ok := hit["_source"].(map[string]any)
		if !ok {
			source = map[string]any{}
		}
		records = append(records, models.RawRecord(source))
	}
	return records, nil
}

func (f *Fetcher) buildURL(query Query) (string, error) {
	base, err := url.Parse(f.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid API base URL %q: %w", f.baseURL, err)
	}

	size := query.MaxRecords
	if size <= 0 || size > MaxPageSize {
		size = MaxPageSize
	}

	params := url.Values{}
	params.Set("size", strconv.Itoa(size))
	params.Set("frm", "0")
	params.Set("sort", DefaultSort)
	params.Set("format", "json")
	params.Set("no_aggs", "true")
	if !query.DateReceivedMin.IsZero() {
		params.Set("date_received_min", formatDate(query.DateReceivedMin))
	}
	if !query.DateReceivedMax.IsZero() {
		params.Set("date_received_max", formatDate(query.DateReceivedMax))
	}
	if query.SearchTerm != "" {
		params.Set("search_term", query.SearchTerm)
		params.Set("field", "company")
	}

	base.RawQuery = params.Encode()
	return base.String(), nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
