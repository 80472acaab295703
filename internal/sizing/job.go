package sizing

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
)

// JobRequest is everything a caller chooses about a new job.
type JobRequest struct {
	Name           string
	Mode           model.JobMode
	CompanyFilters filter.Set
	PersonQueries  []filter.PersonQuery
	Policy         model.DedupPolicy
}

// NewJob builds a pending job from req, filling in the default name and
// mode and computing the query fingerprint.
func NewJob(req JobRequest, now time.Time) (*model.Job, error) {
	if req.Mode == "" {
		req.Mode = model.ModeDetailed
	}
	if !req.Mode.Valid() {
		return nil, eris.Errorf("sizing: unknown mode %q", req.Mode)
	}
	if req.Name == "" {
		req.Name = "Job " + now.UTC().Format("2006-01-02 15:04")
	}
	if req.Policy.MaxDataAgeDays < 0 {
		return nil, eris.New("sizing: max_data_age_days must not be negative")
	}

	fp, err := filter.Fingerprint(req.CompanyFilters, req.PersonQueries)
	if err != nil {
		return nil, eris.Wrap(err, "sizing: fingerprint")
	}

	return &model.Job{
		Name:           req.Name,
		Status:         model.JobStatusPending,
		Mode:           req.Mode,
		CompanyFilters: req.CompanyFilters,
		PersonQueries:  req.PersonQueries,
		Fingerprint:    fp,
		Policy:         req.Policy,
	}, nil
}
