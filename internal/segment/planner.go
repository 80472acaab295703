// Package segment builds execution plans: it splits a company search whose
// result count exceeds the gateway's per-query ceiling into disjoint
// sub-queries that each fit under it.
package segment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
	"github.com/charlie-wiebe/market-sizing-tool/pkg/prospeo"
)

// Countries are the location segments, in plan order.
var Countries = []string{
	"United States",
	"United Kingdom",
	"Canada",
}

// HeadcountBuckets are the headcount segments, in plan order.
var HeadcountBuckets = []string{
	"1-10", "11-20", "21-50", "51-100", "101-200",
	"201-500", "501-1000", "1001-2000", "2001-5000",
	"5001-10000", "10000+",
}

// CodeRequestFailed is the plan error code for transport failures.
const CodeRequestFailed = "REQUEST_FAILED"

// Counter is the part of the gateway the planner needs.
type Counter interface {
	SearchCompanies(ctx context.Context, filters any, page int) (*prospeo.SearchResponse, error)
}

// Segment is one sub-query of a plan.
type Segment struct {
	Label          string     `json:"label"`
	Filters        filter.Set `json:"filters"`
	EstimatedCount int        `json:"estimated_count"`
	Pages          int        `json:"pages"`
	// CountUnknown marks a segment whose count query failed. Pages is 0 and
	// the runner learns the real page count from the first page it fetches.
	CountUnknown bool `json:"count_unknown,omitempty"`
	// Oversized marks a segment still above the ceiling with no axis left
	// to split on. Only the first MaxResultsPerQuery results are reachable.
	Oversized bool `json:"oversized,omitempty"`
}

// Plan is the ordered list of segments for a company search.
type Plan struct {
	Segments        []Segment `json:"segments"`
	TotalEstimated  int       `json:"total_estimated"`
	CreditsEstimate int       `json:"credits_estimate"`
	CountQueries    int       `json:"count_queries"`
	Error           bool      `json:"error"`
	ErrorCode       string    `json:"error_code,omitempty"`
}

// PlanError is returned when the top-level count query fails.
type PlanError struct {
	Code    string
	Message string
}

func (e *PlanError) Error() string {
	if e.Message == "" || e.Message == e.Code {
		return fmt.Sprintf("segment: count query failed: %s", e.Code)
	}
	return fmt.Sprintf("segment: count query failed: %s: %s", e.Code, e.Message)
}

// PagesFor is the number of gateway pages needed for count results.
func PagesFor(count int) int {
	if count <= 0 {
		return 0
	}
	return (count + prospeo.PageSize - 1) / prospeo.PageSize
}

// Planner builds execution plans against a gateway.
type Planner struct {
	gateway Counter
}

// NewPlanner creates a planner.
func NewPlanner(gateway Counter) *Planner {
	return &Planner{gateway: gateway}
}

// CreateExecutionPlan counts base and, when the count is above the ceiling,
// splits it by country and then by headcount bucket. A segment that is
// still too large after its split axes run out is kept whole.
//
// A failed top-level count returns the plan with Error set together with a
// *PlanError. A failed segment count keeps the segment with CountUnknown set.
func (p *Planner) CreateExecutionPlan(ctx context.Context, base filter.Set) (*Plan, error) {
	plan := &Plan{}

	total, err := p.count(ctx, plan, base)
	if err != nil {
		var perr *PlanError
		if !errors.As(err, &perr) {
			return nil, err
		}
		plan.Error = true
		plan.ErrorCode = perr.Code
		return plan, perr
	}

	if err := p.expand(ctx, plan, Segment{Filters: base, EstimatedCount: total}); err != nil {
		return nil, err
	}

	zap.L().Info("segment: plan built",
		zap.Int("segments", len(plan.Segments)),
		zap.Int("total_estimated", plan.TotalEstimated),
		zap.Int("credits_estimate", plan.CreditsEstimate),
		zap.Int("count_queries", plan.CountQueries),
	)
	return plan, nil
}

// expand appends seg, or its children when seg is over the ceiling.
func (p *Planner) expand(ctx context.Context, plan *Plan, seg Segment) error {
	if seg.EstimatedCount <= prospeo.MaxResultsPerQuery {
		plan.add(seg)
		return nil
	}

	children := split(seg)
	if children == nil {
		zap.L().Warn("segment: oversized segment kept whole",
			zap.String("segment", seg.Label),
			zap.Int("estimated_count", seg.EstimatedCount),
		)
		seg.Oversized = true
		plan.add(seg)
		return nil
	}

	for _, child := range children {
		n, err := p.count(ctx, plan, child.Filters)
		if err != nil {
			if ctx.Err() != nil {
				return eris.Wrap(ctx.Err(), "segment: plan cancelled")
			}
			zap.L().Warn("segment: segment count failed, count unknown",
				zap.String("segment", child.Label),
				zap.Error(err),
			)
			child.CountUnknown = true
			plan.add(child)
			continue
		}
		child.EstimatedCount = n
		if err := p.expand(ctx, plan, child); err != nil {
			return err
		}
	}
	return nil
}

// split fans seg out along the first axis it does not constrain yet, or
// returns nil when both are taken.
func split(seg Segment) []Segment {
	switch {
	case !seg.Filters.HasLocation():
		out := make([]Segment, 0, len(Countries))
		for _, c := range Countries {
			out = append(out, Segment{Label: join(seg.Label, c), Filters: seg.Filters.WithCountry(c)})
		}
		return out
	case !seg.Filters.HasHeadcount():
		out := make([]Segment, 0, len(HeadcountBuckets))
		for _, b := range HeadcountBuckets {
			out = append(out, Segment{Label: join(seg.Label, b), Filters: seg.Filters.WithHeadcount(b)})
		}
		return out
	default:
		return nil
	}
}

func join(parent, part string) string {
	if parent == "" {
		return part
	}
	return parent + " / " + part
}

// count issues one page-1 query and returns the reported total.
func (p *Planner) count(ctx context.Context, plan *Plan, filters filter.Set) (int, error) {
	plan.CountQueries++
	resp, err := p.gateway.SearchCompanies(ctx, filters, 1)
	if err != nil {
		if ctx.Err() != nil {
			return 0, eris.Wrap(ctx.Err(), "segment: count cancelled")
		}
		return 0, &PlanError{Code: CodeRequestFailed, Message: err.Error()}
	}
	if resp.IsError() {
		return 0, &PlanError{Code: resp.Code(), Message: resp.Message()}
	}
	return resp.Pagination.TotalCount, nil
}

func (pl *Plan) add(seg Segment) {
	if seg.Label == "" {
		seg.Label = "all"
	}
	if !seg.CountUnknown {
		seg.Pages = PagesFor(seg.EstimatedCount)
	}
	pl.Segments = append(pl.Segments, seg)
	pl.TotalEstimated += seg.EstimatedCount
	pl.CreditsEstimate += seg.Pages
}
