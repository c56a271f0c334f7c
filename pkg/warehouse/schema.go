package warehouse

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
)

// column describes one target column. Zero limit means unbounded text.
type column struct {
	name  string
	date  bool
	limit int
}

var columns = map[string]column{
	"complaint_id":                 {name: "complaint_id", limit: 50},
	"date_received":                {name: "date_received", date: true},
	"date_sent_to_company":         {name: "date_sent_to_company", date: true},
	"product":                      {name: "product", limit: 255},
	"sub_product":                  {name: "sub_product", limit: 255},
	"issue":                        {name: "issue", limit: 500},
	"sub_issue":                    {name: "sub_issue", limit: 500},
	"company":                      {name: "company", limit: 500},
	"state":                        {name: "state", limit: 2},
	"zip_code":                     {name: "zip_code", limit: 10},
	"tags":                         {name: "tags", limit: 255},
	"consumer_consent_provided":    {name: "consumer_consent_provided", limit: 100},
	"submitted_via":                {name: "submitted_via", limit: 100},
	"company_response_to_consumer": {name: "company_response_to_consumer", limit: 255},
	"timely_response":              {name: "timely_response", limit: 10},
	"consumer_disputed":            {name: "consumer_disputed", limit: 10},
	"complaint_what_happened":      {name: "complaint_what_happened"},
	"company_public_response":      {name: "company_public_response"},
}

func (c column) sqlType() string {
	switch {
	case c.date:
		return "TIMESTAMP"
	case c.limit > 0:
		return fmt.Sprintf("VARCHAR(%d)", c.limit)
	default:
		return "TEXT"
	}
}

// createTableSQL has no unique key on complaint_id: repeated loads append duplicates.
func createTableSQL(table pgx.Identifier) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table.Sanitize())
	for _, name := range models.StagedColumns {
		fmt.Fprintf(&b, "    %s %s,\n", name, columns[name].sqlType())
	}
	b.WriteString("    created_date TIMESTAMP,\n")
	b.WriteString("    updated_date TIMESTAMP,\n")
	b.WriteString("    load_timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP\n)")
	return b.String()
}
