package hubspot

import (
	"sort"
	"time"
)

// Lookup methods reported by ResolveBest.
const (
	MethodBothMatch = "both_match"
	MethodLinkedIn  = "linkedin_handle"
	MethodDomain    = "domain"
)

// Match is the record chosen for a company and how it was found.
type Match struct {
	Company Company
	Method  string
}

// ResolveBest picks one record from the LinkedIn handle and domain searches.
// Records matching both the handle and the domain win, oldest createdate
// first. Otherwise the first LinkedIn hit wins, then the first domain hit.
// It returns nil when both searches came back empty.
func ResolveBest(byLinkedIn, byDomain []Company, handle, domain string) *Match {
	var both []Company
	for _, c := range append(append([]Company(nil), byLinkedIn...), byDomain...) {
		if handle != "" && domain != "" &&
			c.Properties.LinkedInHandle == handle && c.Properties.Domain == domain {
			both = append(both, c)
		}
	}

	if len(both) > 0 {
		sort.SliceStable(both, func(i, j int) bool {
			return createdKey(both[i]).Before(createdKey(both[j]))
		})
		return &Match{Company: both[0], Method: MethodBothMatch}
	}
	if len(byLinkedIn) > 0 {
		return &Match{Company: byLinkedIn[0], Method: MethodLinkedIn}
	}
	if len(byDomain) > 0 {
		return &Match{Company: byDomain[0], Method: MethodDomain}
	}
	return nil
}

// Records without a createdate sort last.
var undated = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

func createdKey(c Company) time.Time {
	if t, ok := c.Properties.CreatedAt(); ok {
		return t
	}
	return undated
}
