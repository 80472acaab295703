package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// DefaultQueryName labels person queries submitted without a name.
const DefaultQueryName = "Unnamed Query"

// PersonFilters is an opaque person search filter object.
type PersonFilters map[string]any

// PersonQuery is a named person sub-query run against every company.
type PersonQuery struct {
	Name    string        `json:"name"`
	Filters PersonFilters `json:"filters"`
}

// Label returns the query's name or the default label.
func (q PersonQuery) Label() string {
	if q.Name == "" {
		return DefaultQueryName
	}
	return q.Name
}

// Clone deep-copies the filter tree.
func (p PersonFilters) Clone() PersonFilters {
	if p == nil {
		return PersonFilters{}
	}
	return deepCopy(map[string]any(p)).(map[string]any)
}

// WithCompanyWebsites returns a copy constrained to the given company
// websites. Any existing company.websites.exclude list is preserved.
func (p PersonFilters) WithCompanyWebsites(domains ...string) PersonFilters {
	c := p.Clone()

	company, _ := c["company"].(map[string]any)
	if company == nil {
		company = map[string]any{}
	}
	websites, _ := company["websites"].(map[string]any)
	if websites == nil {
		websites = map[string]any{"exclude": []any{}}
	}
	if _, ok := websites["exclude"]; !ok {
		websites["exclude"] = []any{}
	}

	include := make([]any, len(domains))
	for i, d := range domains {
		include[i] = d
	}
	websites["include"] = include
	company["websites"] = websites
	c["company"] = company
	return c
}

// Merge overlays company-level filters onto a copy, without replacing keys
// the person filters already set.
func (p PersonFilters) Merge(company map[string]any) PersonFilters {
	c := p.Clone()
	for k, v := range company {
		if _, ok := c[k]; !ok {
			c[k] = deepCopy(v)
		}
	}
	return c
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = deepCopy(val)
		}
		return m
	case PersonFilters:
		return deepCopy(map[string]any(t))
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = deepCopy(val)
		}
		return s
	case []string:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = val
		}
		return s
	default:
		return v
	}
}

// Fingerprint identifies a query configuration: the hex SHA-256 of the
// canonical JSON of both filter sets, truncated to 32 characters.
// encoding/json sorts map keys, which makes the encoding canonical.
func Fingerprint(company Set, persons []PersonQuery) (string, error) {
	cm, err := company.Map()
	if err != nil {
		return "", err
	}
	if cm == nil {
		cm = map[string]any{}
	}

	ps := make([]map[string]any, 0, len(persons))
	for _, q := range persons {
		ps = append(ps, map[string]any{
			"name":    q.Name,
			"filters": map[string]any(q.Filters.Clone()),
		})
	}

	b, err := json.Marshal(map[string]any{"company": cm, "person": ps})
	if err != nil {
		return "", eris.Wrap(err, "filter: encode fingerprint")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:32], nil
}
