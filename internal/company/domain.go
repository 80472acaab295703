package company

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/unicode/norm"
)

// MinNameLength is the shortest name that may be matched exactly. Names must
// be strictly longer to avoid merging "AB" with every other "AB".
const MinNameLength = 3

// Hostname extracts a lower-cased host from a URL or bare domain, without
// scheme, port, path, or a leading "www.".
func Hostname(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	var host string
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		host = u.Hostname()
	} else {
		host = s
		if i := strings.IndexAny(host, "/?#"); i >= 0 {
			host = host[:i]
		}
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
	}

	host = strings.TrimRight(strings.ToLower(host), ".")
	return strings.TrimPrefix(host, "www.")
}

// RootDomain returns the registrable domain (eTLD+1) of a URL or host, so
// "https://shop.example.co.uk/x" becomes "example.co.uk". Hosts without a
// recognizable public suffix are returned as-is.
func RootDomain(raw string) string {
	host := Hostname(raw)
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return root
}

// DomainMatches reports whether a stored domain or website belongs to root.
// Subdomains and URL decoration on the stored side are tolerated.
func DomainMatches(stored, root string) bool {
	if stored == "" || root == "" {
		return false
	}
	host := Hostname(stored)
	return host == root || strings.HasSuffix(host, "."+root) || RootDomain(host) == root
}

var domainChars = regexp.MustCompile(`^[a-z0-9.\-]+$`)

// NormalizeDomain cleans a domain for CRM lookups. It returns "" when the
// result does not look like a domain.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?"); i >= 0 {
		d = d[:i]
	}
	if !strings.Contains(d, ".") || !domainChars.MatchString(d) {
		return ""
	}
	return d
}

var handleChars = regexp.MustCompile(`[^a-z0-9\-]`)

// LinkedInHandle extracts "company/<slug>" from a LinkedIn company URL.
// It returns "" for anything else.
func LinkedInHandle(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || !strings.Contains(strings.ToLower(u.Host), "linkedin.com") {
		return ""
	}

	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 || strings.ToLower(parts[0]) != "company" {
		return ""
	}
	slug := handleChars.ReplaceAllString(strings.ToLower(parts[1]), "")
	if slug == "" {
		return ""
	}
	return "company/" + slug
}

// NormalizeName canonicalizes a company name for exact matching: Unicode
// NFC with surrounding and repeated whitespace collapsed. Case is kept.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}

// MatchableName reports whether a name is long enough to match on.
func MatchableName(name string) bool {
	return len([]rune(name)) > MinNameLength
}
