package prospeo

import (
	"encoding/json"
	"fmt"
)

// Error codes synthesized by the client rather than returned by the API.
const (
	CodeNonJSON      = "NON_JSON_RESPONSE"
	CodeUnknown      = "UNKNOWN_ERROR"
	CodeMissingParam = "MISSING_PARAM"
)

// Status is the error envelope shared by every endpoint.
type Status struct {
	Error       bool   `json:"error"`
	ErrorCode   string `json:"error_code,omitempty"`
	FilterError string `json:"filter_error,omitempty"`
	HTTPStatus  int    `json:"-"`
}

// IsError reports a failed call: HTTP >= 400 or an explicit error flag.
func (s Status) IsError() bool {
	return s.HTTPStatus >= 400 || s.Error
}

// Code returns the gateway's error code, or a synthetic one.
func (s Status) Code() string {
	if s.ErrorCode != "" {
		return s.ErrorCode
	}
	if s.HTTPStatus >= 400 {
		return fmt.Sprintf("HTTP_%d", s.HTTPStatus)
	}
	return CodeUnknown
}

// Message is a human-readable description of the failure.
func (s Status) Message() string {
	if s.FilterError != "" {
		return s.FilterError
	}
	return s.Code()
}

// Pagination describes where a result page sits in the full result set.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	TotalPage   int `json:"total_page"`
	TotalCount  int `json:"total_count"`
}

func (p *Pagination) applyDefaults() {
	if p.CurrentPage == 0 {
		p.CurrentPage = 1
	}
	if p.PerPage == 0 {
		p.PerPage = PageSize
	}
}

// SearchResponse is the body of /search-company and /search-person.
type SearchResponse struct {
	Status
	Results    []json.RawMessage `json:"results"`
	Pagination Pagination        `json:"pagination"`
}

// Companies returns each result row's company object. Rows arrive either as
// {"company": {...}} or as the bare object.
func (r *SearchResponse) Companies() []json.RawMessage {
	return unwrapRows(r.Results, "company")
}

// People returns each result row's person object.
func (r *SearchResponse) People() []json.RawMessage {
	return unwrapRows(r.Results, "person")
}

func unwrapRows(rows []json.RawMessage, key string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(row, &obj); err != nil {
			continue
		}
		if inner, ok := obj[key]; ok && len(inner) > 0 && inner[0] == '{' {
			out = append(out, inner)
			continue
		}
		out = append(out, row)
	}
	return out
}

// SuggestionRequest asks for either location or job title suggestions.
// Location wins when both are set.
type SuggestionRequest struct {
	Location string
	JobTitle string
}

// LocationSuggestion is one canonical location the search filters accept.
type LocationSuggestion struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// SuggestionResponse is the body of /search-suggestions.
type SuggestionResponse struct {
	Status
	LocationSuggestions []LocationSuggestion `json:"location_suggestions,omitempty"`
	JobTitleSuggestions []string             `json:"job_title_suggestions,omitempty"`
}
