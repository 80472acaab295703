package company

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// gatewayCompany mirrors the company object returned by the search gateway.
type gatewayCompany struct {
	CompanyID      string          `json:"company_id"`
	Name           string          `json:"name"`
	Website        string          `json:"website"`
	Domain         string          `json:"domain"`
	OtherWebsites  json.RawMessage `json:"other_websites"`
	Description    string          `json:"description"`
	DescriptionSEO string          `json:"description_seo"`
	DescriptionAI  string          `json:"description_ai"`
	Type           string          `json:"type"`
	Industry       string          `json:"industry"`
	EmployeeCount  *int            `json:"employee_count"`
	EmployeeRange  string          `json:"employee_range"`
	Founded        *int            `json:"founded"`
	Keywords       json.RawMessage `json:"keywords"`
	LogoURL        string          `json:"logo_url"`
	LinkedInID     string          `json:"linkedin_id"`

	Location *struct {
		Country     string `json:"country"`
		CountryCode string `json:"country_code"`
		State       string `json:"state"`
		City        string `json:"city"`
		RawAddress  string `json:"raw_address"`
	} `json:"location"`

	EmailTech json.RawMessage `json:"email_tech"`
	PhoneHQ   json.RawMessage `json:"phone_hq"`

	LinkedInURL   string `json:"linkedin_url"`
	TwitterURL    string `json:"twitter_url"`
	FacebookURL   string `json:"facebook_url"`
	CrunchbaseURL string `json:"crunchbase_url"`
	InstagramURL  string `json:"instagram_url"`
	YoutubeURL    string `json:"youtube_url"`

	RevenueRange *struct {
		Min *int64 `json:"min"`
		Max *int64 `json:"max"`
	} `json:"revenue_range"`
	RevenuePrinted string `json:"revenue_range_printed"`

	Attributes *struct {
		IsB2B            *bool `json:"is_b2b"`
		HasDemo          *bool `json:"has_demo"`
		HasFreeTrial     *bool `json:"has_free_trial"`
		HasDownloadable  *bool `json:"has_downloadable"`
		HasMobileApps    *bool `json:"has_mobile_apps"`
		HasOnlineReviews *bool `json:"has_online_reviews"`
		HasPricing       *bool `json:"has_pricing"`
	} `json:"attributes"`

	Funding     json.RawMessage `json:"funding"`
	Technology  json.RawMessage `json:"technology"`
	JobPostings json.RawMessage `json:"job_postings"`
	SICCodes    json.RawMessage `json:"sic_codes"`
	NAICSCodes  json.RawMessage `json:"naics_codes"`
}

// FromPayload converts one gateway company object into a Record.
func FromPayload(raw json.RawMessage) (*Record, error) {
	var g gatewayCompany
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, eris.Wrap(err, "company: decode payload")
	}

	r := &Record{
		ExternalID:    g.CompanyID,
		Name:          NormalizeName(g.Name),
		Website:       g.Website,
		Domain:        g.Domain,
		Industry:      g.Industry,
		EmployeeCount: g.EmployeeCount,
		EmployeeRange: g.EmployeeRange,
		LinkedInURL:   g.LinkedInURL,
		Details: Details{
			Description:    g.Description,
			DescriptionSEO: g.DescriptionSEO,
			DescriptionAI:  g.DescriptionAI,
			CompanyType:    g.Type,
			Founded:        g.Founded,
			LogoURL:        g.LogoURL,
			LinkedInID:     g.LinkedInID,
			TwitterURL:     g.TwitterURL,
			FacebookURL:    g.FacebookURL,
			CrunchbaseURL:  g.CrunchbaseURL,
			InstagramURL:   g.InstagramURL,
			YoutubeURL:     g.YoutubeURL,
			RevenuePrinted: g.RevenuePrinted,
			OtherWebsites:  nonNull(g.OtherWebsites),
			Keywords:       nonNull(g.Keywords),
			EmailTech:      nonNull(g.EmailTech),
			PhoneHQ:        nonNull(g.PhoneHQ),
			Funding:        nonNull(g.Funding),
			Technology:     nonNull(g.Technology),
			JobPostings:    nonNull(g.JobPostings),
			SICCodes:       nonNull(g.SICCodes),
			NAICSCodes:     nonNull(g.NAICSCodes),
		},
	}

	if g.Location != nil {
		r.Country = g.Location.Country
		r.City = g.Location.City
		r.State = g.Location.State
		r.Details.CountryCode = g.Location.CountryCode
		r.Details.RawAddress = g.Location.RawAddress
	}
	if g.RevenueRange != nil {
		r.Details.RevenueMin = g.RevenueRange.Min
		r.Details.RevenueMax = g.RevenueRange.Max
	}
	if a := g.Attributes; a != nil {
		r.Details.IsB2B = a.IsB2B
		r.Details.HasDemo = a.HasDemo
		r.Details.HasFreeTrial = a.HasFreeTrial
		r.Details.HasDownloadable = a.HasDownloadable
		r.Details.HasMobileApps = a.HasMobileApps
		r.Details.HasOnlineReviews = a.HasOnlineReviews
		r.Details.HasPricing = a.HasPricing
	}

	r.RootDomain = r.LookupDomain()
	return r, nil
}

func nonNull(v json.RawMessage) json.RawMessage {
	if len(v) == 0 || string(v) == "null" {
		return nil
	}
	return v
}
