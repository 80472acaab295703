package model

import "github.com/charlie-wiebe/market-sizing-tool/internal/cost"

// SampleCompany is one company row shown in a preview.
type SampleCompany struct {
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	Industry  string `json:"industry,omitempty"`
	Employees *int   `json:"headcount,omitempty"`
	Country   string `json:"location,omitempty"`
}

// SamplePerson is one person row shown in a preview.
type SamplePerson struct {
	Name      string `json:"name"`
	Title     string `json:"title,omitempty"`
	Seniority string `json:"seniority,omitempty"`
}

// PersonPreview is the first person query run against the first sample
// company.
type PersonPreview struct {
	QueryName    string         `json:"query_name"`
	CompanyName  string         `json:"company_name"`
	TotalCount   int            `json:"total_count"`
	SamplePeople []SamplePerson `json:"sample_people"`
}

// Preview estimates a job without running it.
type Preview struct {
	Error     bool   `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`

	CompanyCount     int             `json:"company_count"`
	CompanyPages     int             `json:"company_pages"`
	SampleCompanies  []SampleCompany `json:"sample_companies"`
	PersonPreview    *PersonPreview  `json:"person_preview"`
	EstimatedCredits int             `json:"estimated_credits"`
	CreditBreakdown  cost.Breakdown  `json:"credit_breakdown"`

	Fingerprint string `json:"query_fingerprint"`
	// ExistingJob is the newest completed or running job with the same
	// fingerprint.
	ExistingJob *Job `json:"existing_job,omitempty"`
}
