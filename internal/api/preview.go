package api

import (
	"net/http"

	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
	"github.com/charlie-wiebe/market-sizing-tool/pkg/prospeo"
)

// personQueryRequest is one named person sub-query in a request body.
type personQueryRequest struct {
	Name    string               `json:"name" validate:"max=100"`
	Filters filter.PersonFilters `json:"filters"`
}

func toPersonQueries(in []personQueryRequest) []filter.PersonQuery {
	out := make([]filter.PersonQuery, len(in))
	for i, q := range in {
		out[i] = filter.PersonQuery{Name: q.Name, Filters: q.Filters}
	}
	return out
}

type previewRequest struct {
	CompanyFilters filter.Set           `json:"company_filters"`
	PersonFilters  []personQueryRequest `json:"person_filters" validate:"max=20,dive"`
	SampleSize     int                  `json:"sample_size" validate:"omitempty,min=1,max=25"`
}

// preview handles POST /api/preview. A gateway rejection is a 400 carrying
// the gateway's error code.
func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !s.decode(w, r, &req) {
		return
	}
	n := req.SampleSize
	if n == 0 {
		n = s.sampleSize
	}

	pv, err := s.previewer.Preview(r.Context(), req.CompanyFilters, toPersonQueries(req.PersonFilters), n)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if pv.Error {
		writeJSON(w, http.StatusBadRequest, pv)
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

// suggestions handles GET /api/suggestions?location=... or ?job_title=...
func (s *Server) suggestions(w http.ResponseWriter, r *http.Request) {
	if s.suggest == nil {
		writeError(w, http.StatusNotImplemented, "suggestions are not configured")
		return
	}
	q := r.URL.Query()
	req := prospeo.SuggestionRequest{Location: q.Get("location"), JobTitle: q.Get("job_title")}
	if req.Location == "" && req.JobTitle == "" {
		writeError(w, http.StatusBadRequest, "location or job_title is required")
		return
	}

	resp, err := s.suggest.SearchSuggestions(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if resp.IsError() {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      true,
			"error_code": resp.Code(),
			"message":    resp.Message(),
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
