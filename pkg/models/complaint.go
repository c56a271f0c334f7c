package models

// RawRecord is one complaint as returned by the source API, after the search envelope
// has been stripped.
type RawRecord map[string]any

// Complaint is a normalized complaint record. Nil pointers are nulls.
type Complaint struct {
	ComplaintID               *string `db:"complaint_id" json:"complaint_id"`
	DateReceived              *string `db:"date_received" json:"date_received"`
	DateSentToCompany         *string `db:"date_sent_to_company" json:"date_sent_to_company"`
	Product                   *string `db:"product" json:"product"`
	SubProduct                *string `db:"sub_product" json:"sub_product"`
	Issue                     *string `db:"issue" json:"issue"`
	SubIssue                  *string `db:"sub_issue" json:"sub_issue"`
	Company                   *string `db:"company" json:"company"`
	State                     *string `db:"state" json:"state"`
	ZipCode                   *string `db:"zip_code" json:"zip_code"`
	Tags                      *string `db:"tags" json:"tags"`
	ConsumerConsentProvided   *string `db:"consumer_consent_provided" json:"consumer_consent_provided"`
	SubmittedVia              *string `db:"submitted_via" json:"submitted_via"`
	CompanyResponseToConsumer *string `db:"company_response_to_consumer" json:"company_response_to_consumer"`
	TimelyResponse            *string `db:"timely_response" json:"timely_response"`
	ConsumerDisputed          *string `db:"consumer_disputed" json:"consumer_disputed"`
	ComplaintWhatHappened     *string `db:"complaint_what_happened" json:"complaint_what_happened"`
	CompanyPublicResponse     *string `db:"company_public_response" json:"company_public_response"`
}

// StagedColumns is the positional column order of staged CSV extracts. The CSV header
// and the warehouse bulk ingest both follow it.
var StagedColumns = []string{
	"product",
	"complaint_what_happened",
	"date_sent_to_company",
	"issue",
	"sub_product",
	"zip_code",
	"tags",
	"complaint_id",
	"timely_response",
	"consumer_consent_provided",
	"company_response_to_consumer",
	"submitted_via",
	"company",
	"date_received",
	"state",
	"consumer_disputed",
	"company_public_response",
	"sub_issue",
}

// Field returns the value of the named column.
func (c *Complaint) Field(column string) *string {
	switch column {
	case "complaint_id":
		return c.ComplaintID
	case "date_received":
		return c.DateReceived
	case "date_sent_to_company":
		return c.DateSentToCompany
	case "product":
		return c.Product
	case "sub_product":
		return c.SubProduct
	case "issue":
		return c.Issue
	case "sub_issue":
		return c.SubIssue
	case "company":
		return c.Company
	case "state":
		return c.State
	case "zip_code":
		return c.ZipCode
	case "tags":
		return c.Tags
	case "consumer_consent_provided":
		return c.ConsumerConsentProvided
	case "submitted_via":
		return c.SubmittedVia
	case "company_response_to_consumer":
		return c.CompanyResponseToConsumer
	case "timely_response":
		return c.TimelyResponse
	case "consumer_disputed":
		return c.ConsumerDisputed
	case "complaint_what_happened":
		return c.ComplaintWhatHappened
	case "company_public_response":
		return c.CompanyPublicResponse
	}
	return nil
}

// SetField sets the value of the named column. Unknown columns are ignored.
func (c *Complaint) SetField(column string, value *string) {
	switch column {
	case "complaint_id":
		c.ComplaintID = value
	case "date_received":
		c.DateReceived = value
	case "date_sent_to_company":
		c.DateSentToCompany = value
	case "product":
		c.Product = value
	case "sub_product":
		c.SubProduct = value
	case "issue":
		c.Issue = value
	case "sub_issue":
		c.SubIssue = value
	case "company":
		c.Company = value
	case "state":
		c.State = value
	case "zip_code":
		c.ZipCode = value
	case "tags":
		c.Tags = value
	case "consumer_consent_provided":
		c.ConsumerConsentProvided = value
	case "submitted_via":
		c.SubmittedVia = value
	case "company_response_to_consumer":
		c.CompanyResponseToConsumer = value
	case "timely_response":
		c.TimelyResponse = value
	case "consumer_disputed":
		c.ConsumerDisputed = value
	case "complaint_what_happened":
		c.ComplaintWhatHappened = value
	case "company_public_response":
		c.CompanyPublicResponse = value
	}
}

// ID returns the complaint id or "" when it is null.
func (c *Complaint) ID() string {
	if c.ComplaintID == nil {
		return ""
	}
	return *c.ComplaintID
}
