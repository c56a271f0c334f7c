package transform

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
)

func newTransformer() *Transformer {
	return NewTransformer(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func decode(t *testing.T, body string) []models.RawRecord {
	t.Helper()
	decoder := json.NewDecoder(strings.NewReader(body))
	decoder.UseNumber()
	var records []models.RawRecord
	require.NoError(t, decoder.Decode(&records))
	return records
}

func TestTransform_JoinsListFields(t *testing.T) {
	raw := decode(t, `[{"complaint_id":"123","company":"Acme","tags":["x","y"]}]`)

	result, err := newTransformer().Transform(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, "123", result.Records[0].ID())
	require.NotNil(t, result.Records[0].Tags)
	assert.Equal(t, "x, y", *result.Records[0].Tags)
	assert.Equal(t, "Acme", *result.Records[0].Company)
	assert.Nil(t, result.Records[0].State)
}

func TestTransform_AllSkippedIsEmptyTransform(t *testing.T) {
	raw := decode(t, `[{"company":"Acme"}]`)

	result, err := newTransformer().Transform(context.Background(), raw)
	assert.ErrorIs(t, err, ErrEmptyTransform)
	assert.Empty(t, result.Records)
	assert.Equal(t, 1, result.Skipped)
}

func TestTransform_EmptyInputIsNotAnError(t *testing.T) {
	result, err := newTransformer().Transform(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Equal(t, 0, result.Skipped)
}

func TestTransform_OneRecordPerIdentifier(t *testing.T) {
	raw := decode(t, `[
		{"complaint_id": "1"},
		{"complaint_id": null},
		{"complaint_id": ""},
		{"complaint_id": 42},
		{"product": "Mortgage"},
		{"complaint_id": "7", "product": "Debt collection"}
	]`)

	result := Transform(raw)
	assert.Equal(t, 3, result.Skipped)

	ids := make([]string, 0, len(result.Records))
	for i := range result.Records {
		ids = append(ids, result.Records[i].ID())
	}
	assert.Equal(t, []string{"1", "42", "7"}, ids)
}

func TestTransform_FieldAliases(t *testing.T) {
	raw := decode(t, `[
		{"complaint_id": "1", "company_response": "Closed with explanation", "timely": "Yes"},
		{"complaint_id": "2", "company_response_to_consumer": "In progress", "company_response": "ignored", "timely_response": "No"}
	]`)

	result := Transform(raw)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "Closed with explanation", *result.Records[0].CompanyResponseToConsumer)
	assert.Equal(t, "Yes", *result.Records[0].TimelyResponse)
	assert.Equal(t, "In progress", *result.Records[1].CompanyResponseToConsumer)
	assert.Equal(t, "No", *result.Records[1].TimelyResponse)
}

func TestTransform_ScalarCoercion(t *testing.T) {
	raw := decode(t, `[{
		"complaint_id": 12345678,
		"zip_code": 90210,
		"consumer_disputed": false,
		"state": 1.5,
		"tags": [],
		"issue": ["a", null, 3]
	}]`)

	result := Transform(raw)
	require.Len(t, result.Records, 1)
	record := result.Records[0]
	assert.Equal(t, "12345678", record.ID())
	assert.Equal(t, "90210", *record.ZipCode)
	assert.Equal(t, "false", *record.ConsumerDisputed)
	assert.Equal(t, "1.5", *record.State)
	assert.Equal(t, "", *record.Tags)
	assert.Equal(t, "a, 3", *record.Issue)
}

func TestCoerce_FloatWithoutExponent(t *testing.T) {
	value, ok := coerce(float64(1e7))
	assert.True(t, ok)
	assert.Equal(t, "10000000", value)

	value, ok = coerce(json.Number("1e3"))
	assert.True(t, ok)
	assert.Equal(t, "1000", value)
}

func TestWriteCSV_StagedColumnOrder(t *testing.T) {
	id, company, tags := "123", "Acme", "x, y"
	records := []models.Complaint{{ComplaintID: &id, Company: &company, Tags: &tags}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.StagedColumns, rows[0])

	row := rows[1]
	require.Len(t, row, len(models.StagedColumns))
	assert.Equal(t, "123", row[7])
	assert.Equal(t, "Acme", row[12])
	assert.Equal(t, "x, y", row[6])
	assert.Equal(t, "", row[0])
}

func TestWriteCompanyExtract(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	id := "9"

	path, err := WriteCompanyExtract(dir, "Bank of America", []models.Complaint{{ComplaintID: &id}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bank_of_america_complaints.csv"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	assert.Len(t, lines, 2)
}
