// Package company defines the global company record and its identity
// resolution rules.
package company

import (
	"encoding/json"
	"time"
)

// Record is a company as stored globally. Records are shared by every job
// that encounters them; job membership lives in a separate link table.
//
// Empty strings and nil pointers mean "unknown".
type Record struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"prospeo_company_id,omitempty"`
	Name       string `json:"name"`
	Website    string `json:"website,omitempty"`
	Domain     string `json:"domain,omitempty"`
	RootDomain string `json:"root_domain,omitempty"`
	Industry   string `json:"industry,omitempty"`

	EmployeeCount *int   `json:"employee_count,omitempty"`
	EmployeeRange string `json:"employee_range,omitempty"`

	Country     string `json:"location_country,omitempty"`
	City        string `json:"location_city,omitempty"`
	State       string `json:"location_state,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`

	Details Details `json:"details"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Details holds the long tail of gateway attributes. It is stored as one
// JSON document; omitted keys never overwrite stored ones.
type Details struct {
	Description    string `json:"description,omitempty"`
	DescriptionSEO string `json:"description_seo,omitempty"`
	DescriptionAI  string `json:"description_ai,omitempty"`
	CompanyType    string `json:"company_type,omitempty"`
	Founded        *int   `json:"founded,omitempty"`
	LogoURL        string `json:"logo_url,omitempty"`
	LinkedInID     string `json:"linkedin_id,omitempty"`

	CountryCode string `json:"location_country_code,omitempty"`
	RawAddress  string `json:"location_raw_address,omitempty"`

	TwitterURL    string `json:"twitter_url,omitempty"`
	FacebookURL   string `json:"facebook_url,omitempty"`
	CrunchbaseURL string `json:"crunchbase_url,omitempty"`
	InstagramURL  string `json:"instagram_url,omitempty"`
	YoutubeURL    string `json:"youtube_url,omitempty"`

	RevenueMin     *int64 `json:"revenue_min,omitempty"`
	RevenueMax     *int64 `json:"revenue_max,omitempty"`
	RevenuePrinted string `json:"revenue_range_printed,omitempty"`

	IsB2B            *bool `json:"is_b2b,omitempty"`
	HasDemo          *bool `json:"has_demo,omitempty"`
	HasFreeTrial     *bool `json:"has_free_trial,omitempty"`
	HasDownloadable  *bool `json:"has_downloadable,omitempty"`
	HasMobileApps    *bool `json:"has_mobile_apps,omitempty"`
	HasOnlineReviews *bool `json:"has_online_reviews,omitempty"`
	HasPricing       *bool `json:"has_pricing,omitempty"`

	OtherWebsites json.RawMessage `json:"other_websites,omitempty"`
	Keywords      json.RawMessage `json:"keywords,omitempty"`
	EmailTech     json.RawMessage `json:"email_tech,omitempty"`
	PhoneHQ       json.RawMessage `json:"phone_hq,omitempty"`
	Funding       json.RawMessage `json:"funding,omitempty"`
	Technology    json.RawMessage `json:"technology,omitempty"`
	JobPostings   json.RawMessage `json:"job_postings,omitempty"`
	SICCodes      json.RawMessage `json:"sic_codes,omitempty"`
	NAICSCodes    json.RawMessage `json:"naics_codes,omitempty"`
}

// LookupDomain is the root domain used for person sub-queries: the stored
// root domain, else one derived from domain or website.
func (r *Record) LookupDomain() string {
	if r.RootDomain != "" {
		return r.RootDomain
	}
	if d := RootDomain(r.Domain); d != "" {
		return d
	}
	return RootDomain(r.Website)
}

// WebsiteDomain is the root domain derived from the website alone, used as
// a fallback when the primary domain finds nobody.
func (r *Record) WebsiteDomain() string {
	return RootDomain(r.Website)
}
