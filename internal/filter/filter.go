// Package filter models the search filter payloads sent to the gateway.
//
// Company filters are mostly opaque. The segmenter only ever touches the
// location and headcount keys, so those two are typed and every other key
// passes through untouched.
package filter

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/rotisserie/eris"
)

// Keys the segmenter understands.
const (
	KeyLocation  = "company_location_search"
	KeyHeadcount = "company_headcount_range"
)

// Inclusion is an include/exclude list.
type Inclusion struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

// Set is a company filter set.
type Set struct {
	Location  *Inclusion
	Headcount []string
	Extra     map[string]json.RawMessage
}

// Parse decodes a flat filter object.
func Parse(data []byte) (Set, error) {
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return Set{}, err
	}
	return s, nil
}

// MarshalJSON emits the flat object the gateway expects.
func (s Set) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+2)
	for k, v := range s.Extra {
		out[k] = v
	}
	if s.Location != nil {
		loc := *s.Location
		if loc.Include == nil {
			loc.Include = []string{}
		}
		if loc.Exclude == nil {
			loc.Exclude = []string{}
		}
		out[KeyLocation] = loc
	}
	if s.Headcount != nil {
		out[KeyHeadcount] = s.Headcount
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits the flat object into typed and pass-through keys.
func (s *Set) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "filter: decode company filters")
	}

	*s = Set{}
	if v, ok := raw[KeyLocation]; ok && !isNull(v) {
		var loc Inclusion
		if err := json.Unmarshal(v, &loc); err != nil {
			return eris.Wrapf(err, "filter: decode %s", KeyLocation)
		}
		s.Location = &loc
	}
	if v, ok := raw[KeyHeadcount]; ok && !isNull(v) {
		var hc []string
		if err := json.Unmarshal(v, &hc); err != nil {
			return eris.Wrapf(err, "filter: decode %s", KeyHeadcount)
		}
		if hc == nil {
			hc = []string{}
		}
		s.Headcount = hc
	}

	delete(raw, KeyLocation)
	delete(raw, KeyHeadcount)
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return string(v) == "null"
}

// HasLocation reports whether a location constraint is present.
func (s Set) HasLocation() bool { return s.Location != nil }

// HasHeadcount reports whether a headcount constraint is present.
func (s Set) HasHeadcount() bool { return s.Headcount != nil }

// Clone returns a deep copy.
func (s Set) Clone() Set {
	c := Set{
		Headcount: slices.Clone(s.Headcount),
		Extra:     maps.Clone(s.Extra),
	}
	if s.Location != nil {
		c.Location = &Inclusion{
			Include: slices.Clone(s.Location.Include),
			Exclude: slices.Clone(s.Location.Exclude),
		}
	}
	return c
}

// WithCountry narrows a copy of s to one country.
func (s Set) WithCountry(country string) Set {
	c := s.Clone()
	c.Location = &Inclusion{Include: []string{country}, Exclude: []string{}}
	return c
}

// WithHeadcount narrows a copy of s to one headcount bucket.
func (s Set) WithHeadcount(bucket string) Set {
	c := s.Clone()
	c.Headcount = []string{bucket}
	return c
}

// Map renders s as a generic map, for merging into person filters.
func (s Set) Map() (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, eris.Wrap(err, "filter: encode company filters")
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, eris.Wrap(err, "filter: decode company filters")
	}
	return m, nil
}
