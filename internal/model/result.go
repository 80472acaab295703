package model

import "time"

// CountStatus is the outcome of one person sub-query.
type CountStatus string

const (
	CountOK    CountStatus = "ok"
	CountError CountStatus = "error"
)

// PersonCount is the result of one named person sub-query for one company.
// Rows are append-only; at most one row per (company, query) is active.
type PersonCount struct {
	ID         int64       `json:"id"`
	CompanyID  int64       `json:"company_id"`
	JobID      string      `json:"job_id"`
	ExternalID string      `json:"prospeo_company_id,omitempty"`
	QueryName  string      `json:"query_name"`
	TotalCount int         `json:"total_count"`
	Status     CountStatus `json:"status"`
	ErrorCode  string      `json:"error_code,omitempty"`
	IsActive   bool        `json:"is_active"`
	CreatedAt  time.Time   `json:"created_at"`
}

// LookupMethod records how a CRM record was matched.
type LookupMethod string

const (
	LookupLinkedIn  LookupMethod = "linkedin_handle"
	LookupDomain    LookupMethod = "domain"
	LookupBothMatch LookupMethod = "both_match"
	LookupNoMatch   LookupMethod = "no_match"
)

// Enrichment is the CRM match for a company. Like PersonCount it is
// append-only with one active row per company.
type Enrichment struct {
	ID               int64        `json:"id"`
	CompanyID        int64        `json:"company_id"`
	JobID            string       `json:"job_id"`
	HubSpotObjectID  string       `json:"hubspot_object_id,omitempty"`
	Vertical         string       `json:"vertical,omitempty"`
	LookupMethod     LookupMethod `json:"lookup_method"`
	HubSpotCreatedAt *time.Time   `json:"hubspot_created_date,omitempty"`
	IsActive         bool         `json:"is_active"`
	CreatedAt        time.Time    `json:"created_at"`
}

// CompanyResult is one company row in a job's result listing, with the
// job's person counts keyed by query name.
type CompanyResult struct {
	CompanyID    int64          `json:"id"`
	ExternalID   string         `json:"prospeo_company_id,omitempty"`
	Name         string         `json:"name"`
	Domain       string         `json:"domain,omitempty"`
	Website      string         `json:"website,omitempty"`
	Industry     string         `json:"industry,omitempty"`
	Employees    *int           `json:"employee_count,omitempty"`
	Country      string         `json:"location_country,omitempty"`
	City         string         `json:"location_city,omitempty"`
	State        string         `json:"location_state,omitempty"`
	PersonCounts map[string]int `json:"person_counts"`
}

// Page is a window over a result listing.
type Page struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

// Aggregates sums a job's person counts by query name.
type Aggregates struct {
	TotalCompanies int            `json:"total_companies"`
	PersonCounts   map[string]int `json:"person_counts"`
}

// JobResults is the paginated result view of a job.
type JobResults struct {
	Job        *Job            `json:"job"`
	Companies  []CompanyResult `json:"companies"`
	Pagination Page            `json:"pagination"`
	Aggregates Aggregates      `json:"aggregates"`
}
