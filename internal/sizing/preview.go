package sizing

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/charlie-wiebe/market-sizing-tool/internal/company"
	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/segment"
)

// DefaultSampleSize is how many companies and people a preview shows.
const DefaultSampleSize = 5

// Preview estimates a job over companyFilters and personQueries without
// creating it. A gateway rejection comes back as a preview with Error set;
// the error is for transport and store failures.
func (r *Runner) Preview(ctx context.Context, companyFilters filter.Set, personQueries []filter.PersonQuery, sampleSize int) (*model.Preview, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	resp, err := r.gateway.SearchCompanies(ctx, companyFilters, 1)
	if err != nil {
		return nil, eris.Wrap(err, "sizing: preview company search")
	}
	if resp.IsError() {
		return &model.Preview{
			Error:     true,
			ErrorCode: resp.Code(),
			Message:   resp.Message(),
		}, nil
	}

	total := resp.Pagination.TotalCount
	breakdown := r.calc.Estimate(total, len(personQueries))
	pv := &model.Preview{
		CompanyCount:     total,
		CompanyPages:     segment.PagesFor(total),
		SampleCompanies:  []model.SampleCompany{},
		EstimatedCredits: breakdown.Total(),
		CreditBreakdown:  breakdown,
	}

	var first *company.Record
	for _, raw := range resp.Companies() {
		if len(pv.SampleCompanies) >= sampleSize {
			break
		}
		rec, err := company.FromPayload(raw)
		if err != nil {
			continue
		}
		if first == nil {
			first = rec
		}
		domain := rec.Domain
		if domain == "" {
			domain = rec.Website
		}
		pv.SampleCompanies = append(pv.SampleCompanies, model.SampleCompany{
			Name:      rec.Name,
			Domain:    domain,
			Industry:  rec.Industry,
			Employees: rec.EmployeeCount,
			Country:   rec.Country,
		})
	}

	if len(personQueries) > 0 && first != nil {
		if root := first.LookupDomain(); root != "" {
			pv.PersonPreview = r.previewPeople(ctx, personQueries[0], first.Name, root, sampleSize)
		}
	}

	fp, err := filter.Fingerprint(companyFilters, personQueries)
	if err != nil {
		return nil, eris.Wrap(err, "sizing: preview fingerprint")
	}
	pv.Fingerprint = fp
	if pv.ExistingJob, err = r.store.FindJobByFingerprint(ctx, fp); err != nil {
		return nil, eris.Wrap(err, "sizing: preview existing job")
	}
	return pv, nil
}

type gatewayPerson struct {
	FullName  string `json:"full_name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	JobTitle  string `json:"job_title"`
	Title     string `json:"title"`
	Seniority string `json:"seniority"`
}

// previewPeople runs q against one company. Failures leave the person
// preview out.
func (r *Runner) previewPeople(ctx context.Context, q filter.PersonQuery, companyName, domain string, sampleSize int) *model.PersonPreview {
	resp, err := r.gateway.SearchPeople(ctx, q.Filters.WithCompanyWebsites(domain), 1)
	if err != nil {
		zap.L().Warn("sizing: preview person search failed", zap.String("domain", domain), zap.Error(err))
		return nil
	}
	if resp.IsError() {
		return nil
	}

	out := &model.PersonPreview{
		QueryName:    q.Label(),
		CompanyName:  companyName,
		TotalCount:   resp.Pagination.TotalCount,
		SamplePeople: []model.SamplePerson{},
	}
	for _, raw := range resp.People() {
		if len(out.SamplePeople) >= sampleSize {
			break
		}
		var gp gatewayPerson
		if err := json.Unmarshal(raw, &gp); err != nil {
			continue
		}
		name := gp.FullName
		if name == "" {
			name = strings.TrimSpace(gp.FirstName + " " + gp.LastName)
		}
		title := gp.JobTitle
		if title == "" {
			title = gp.Title
		}
		out.SamplePeople = append(out.SamplePeople, model.SamplePerson{Name: name, Title: title, Seniority: gp.Seniority})
	}
	return out
}
