package store

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/charlie-wiebe/market-sizing-tool/internal/company"
	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
)

const jobColumns = `id, name, status, mode, company_filters, person_filters, query_fingerprint,
	aggregate_results, skip_existing_companies, skip_existing_person_counts, skip_existing_enrichment,
	max_data_age_days, total_companies, processed_companies, estimated_credits, actual_credits,
	companies_skipped, person_counts_skipped, enrichment_skipped, error_message,
	started_at, completed_at, created_at, updated_at`

const companyColumns = `id, external_id, name, website, domain, root_domain, industry,
	employee_count, employee_range, location_country, location_city, location_state,
	linkedin_url, details, created_at, updated_at`

const personCountColumns = `id, company_id, job_id, external_id, query_name, total_count,
	status, error_code, is_active, created_at`

const enrichmentColumns = `id, company_id, job_id, hubspot_object_id, vertical, lookup_method,
	hubspot_created_at, is_active, created_at`

// jobDocs holds the JSON columns of a job.
type jobDocs struct {
	company []byte
	person  []byte
}

func encodeJob(j *model.Job) (jobDocs, error) {
	cf, err := json.Marshal(j.CompanyFilters)
	if err != nil {
		return jobDocs{}, eris.Wrap(err, "store: marshal company filters")
	}
	queries := j.PersonQueries
	if queries == nil {
		queries = []filter.PersonQuery{}
	}
	pf, err := json.Marshal(queries)
	if err != nil {
		return jobDocs{}, eris.Wrap(err, "store: marshal person filters")
	}
	return jobDocs{company: cf, person: pf}, nil
}

func scanJob(row scannable) (*model.Job, error) {
	var (
		j            model.Job
		cf, pf, agg  []byte
		status, mode string
	)
	err := row.Scan(
		&j.ID, &j.Name, &status, &mode, &cf, &pf, &j.Fingerprint,
		&agg, &j.Policy.SkipCompanies, &j.Policy.SkipPersonCounts, &j.Policy.SkipEnrichment,
		&j.Policy.MaxDataAgeDays, &j.TotalCompanies, &j.ProcessedCompanies, &j.EstimatedCredits, &j.ActualCredits,
		&j.CompaniesSkipped, &j.PersonCountsSkipped, &j.EnrichmentSkipped, &j.ErrorMessage,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	j.Mode = model.JobMode(mode)

	if len(cf) > 0 {
		if err := json.Unmarshal(cf, &j.CompanyFilters); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal company filters")
		}
	}
	if len(pf) > 0 {
		if err := json.Unmarshal(pf, &j.PersonQueries); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal person filters")
		}
	}
	if len(agg) > 0 && string(agg) != "null" {
		if err := json.Unmarshal(agg, &j.AggregateResults); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal aggregate results")
		}
	}
	return &j, nil
}

func scanCompany(row scannable) (*company.Record, error) {
	var (
		c       company.Record
		ext     *string
		details []byte
	)
	err := row.Scan(
		&c.ID, &ext, &c.Name, &c.Website, &c.Domain, &c.RootDomain, &c.Industry,
		&c.EmployeeCount, &c.EmployeeRange, &c.Country, &c.City, &c.State,
		&c.LinkedInURL, &details, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ext != nil {
		c.ExternalID = *ext
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &c.Details); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal company details")
		}
	}
	return &c, nil
}

func scanPersonCount(row scannable) (*model.PersonCount, error) {
	var (
		pc     model.PersonCount
		status string
	)
	err := row.Scan(&pc.ID, &pc.CompanyID, &pc.JobID, &pc.ExternalID, &pc.QueryName, &pc.TotalCount,
		&status, &pc.ErrorCode, &pc.IsActive, &pc.CreatedAt)
	if err != nil {
		return nil, err
	}
	pc.Status = model.CountStatus(status)
	return &pc, nil
}

func scanEnrichment(row scannable) (*model.Enrichment, error) {
	var (
		e      model.Enrichment
		method string
	)
	err := row.Scan(&e.ID, &e.CompanyID, &e.JobID, &e.HubSpotObjectID, &e.Vertical, &method,
		&e.HubSpotCreatedAt, &e.IsActive, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.LookupMethod = model.LookupMethod(method)
	return &e, nil
}

// externalID maps "" to NULL so the unique index ignores unknown IDs.
func externalID(rec *company.Record) *string {
	if rec.ExternalID == "" {
		return nil
	}
	return &rec.ExternalID
}

func marshalDetails(rec *company.Record) ([]byte, error) {
	b, err := json.Marshal(rec.Details)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal company details")
	}
	return b, nil
}

// overlayDetails replaces each top-level key of stored with the value from
// incoming, matching the jsonb || operator. Nested objects are not merged.
func overlayDetails(stored, incoming []byte) ([]byte, error) {
	var base, top map[string]json.RawMessage
	if err := json.Unmarshal(stored, &base); err != nil {
		return nil, eris.Wrap(err, "store: decode stored details")
	}
	if err := json.Unmarshal(incoming, &top); err != nil {
		return nil, eris.Wrap(err, "store: decode details")
	}
	if base == nil {
		base = make(map[string]json.RawMessage, len(top))
	}
	for k, v := range top {
		base[k] = v
	}
	b, err := json.Marshal(base)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode details")
	}
	return b, nil
}

// prefixed qualifies every column in cols with alias.
func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
