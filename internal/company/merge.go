package company

import "encoding/json"

// Merge overlays every known field of incoming onto existing. Unknown
// incoming fields (empty string, nil) never clear a stored value.
// Identity and timestamps on existing are kept.
func Merge(existing, incoming *Record) {
	str(&existing.ExternalID, incoming.ExternalID)
	str(&existing.Name, incoming.Name)
	str(&existing.Website, incoming.Website)
	str(&existing.Domain, incoming.Domain)
	str(&existing.RootDomain, incoming.RootDomain)
	str(&existing.Industry, incoming.Industry)
	ptr(&existing.EmployeeCount, incoming.EmployeeCount)
	str(&existing.EmployeeRange, incoming.EmployeeRange)
	str(&existing.Country, incoming.Country)
	str(&existing.City, incoming.City)
	str(&existing.State, incoming.State)
	str(&existing.LinkedInURL, incoming.LinkedInURL)

	mergeDetails(&existing.Details, &incoming.Details)
}

func mergeDetails(e, in *Details) {
	str(&e.Description, in.Description)
	str(&e.DescriptionSEO, in.DescriptionSEO)
	str(&e.DescriptionAI, in.DescriptionAI)
	str(&e.CompanyType, in.CompanyType)
	ptr(&e.Founded, in.Founded)
	str(&e.LogoURL, in.LogoURL)
	str(&e.LinkedInID, in.LinkedInID)
	str(&e.CountryCode, in.CountryCode)
	str(&e.RawAddress, in.RawAddress)
	str(&e.TwitterURL, in.TwitterURL)
	str(&e.FacebookURL, in.FacebookURL)
	str(&e.CrunchbaseURL, in.CrunchbaseURL)
	str(&e.InstagramURL, in.InstagramURL)
	str(&e.YoutubeURL, in.YoutubeURL)
	ptr(&e.RevenueMin, in.RevenueMin)
	ptr(&e.RevenueMax, in.RevenueMax)
	str(&e.RevenuePrinted, in.RevenuePrinted)
	ptr(&e.IsB2B, in.IsB2B)
	ptr(&e.HasDemo, in.HasDemo)
	ptr(&e.HasFreeTrial, in.HasFreeTrial)
	ptr(&e.HasDownloadable, in.HasDownloadable)
	ptr(&e.HasMobileApps, in.HasMobileApps)
	ptr(&e.HasOnlineReviews, in.HasOnlineReviews)
	ptr(&e.HasPricing, in.HasPricing)
	raw(&e.OtherWebsites, in.OtherWebsites)
	raw(&e.Keywords, in.Keywords)
	raw(&e.EmailTech, in.EmailTech)
	raw(&e.PhoneHQ, in.PhoneHQ)
	raw(&e.Funding, in.Funding)
	raw(&e.Technology, in.Technology)
	raw(&e.JobPostings, in.JobPostings)
	raw(&e.SICCodes, in.SICCodes)
	raw(&e.NAICSCodes, in.NAICSCodes)
}

func str(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func ptr[T any](dst **T, v *T) {
	if v != nil {
		*dst = v
	}
}

func raw(dst *json.RawMessage, v json.RawMessage) {
	if len(v) > 0 && string(v) != "null" {
		*dst = v
	}
}
