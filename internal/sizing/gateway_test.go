package sizing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/store"
	"github.com/charlie-wiebe/market-sizing-tool/pkg/prospeo"
)

// fakeGateway serves company searches from tables keyed by
// "country|headcount" and person searches keyed by the company website
// constraint, or by job title when there is none.
type fakeGateway struct {
	mu sync.Mutex

	counts      map[string]int
	rows        map[string][]json.RawMessage // page-1 companies per key
	companyFail map[string]string
	companyNet  map[string]bool
	panicKey    string

	people     map[string]int
	peopleFail map[string]string
	peopleNet  map[string]bool

	companyCalls map[string]int
	personCalls  []string
	lastPerson   filter.PersonFilters

	onPage func(ctx context.Context, key string, page int)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		counts:       map[string]int{},
		rows:         map[string][]json.RawMessage{},
		companyFail:  map[string]string{},
		companyNet:   map[string]bool{},
		people:       map[string]int{},
		peopleFail:   map[string]string{},
		peopleNet:    map[string]bool{},
		companyCalls: map[string]int{},
	}
}

func setKey(f filter.Set) string {
	country, bucket := "", ""
	if f.Location != nil && len(f.Location.Include) > 0 {
		country = f.Location.Include[0]
	}
	if len(f.Headcount) > 0 {
		bucket = f.Headcount[0]
	}
	return country + "|" + bucket
}

func personKey(p filter.PersonFilters) string {
	if c, ok := p["company"].(map[string]any); ok {
		if w, ok := c["websites"].(map[string]any); ok {
			if inc, ok := w["include"].([]any); ok && len(inc) > 0 {
				return inc[0].(string)
			}
		}
	}
	if t, ok := p["person_job_title"].(map[string]any); ok {
		if inc, ok := t["include"].([]any); ok && len(inc) > 0 {
			return "title:" + inc[0].(string)
		}
	}
	return ""
}

func (g *fakeGateway) SearchCompanies(ctx context.Context, filters any, page int) (*prospeo.SearchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := setKey(filters.(filter.Set))

	g.mu.Lock()
	g.companyCalls[k]++
	hook := g.onPage
	g.mu.Unlock()

	if k == g.panicKey && page > 1 {
		panic("gateway exploded")
	}
	if hook != nil {
		hook(ctx, k, page)
	}
	if g.companyNet[k] {
		return nil, errors.New("connection reset")
	}
	if code, ok := g.companyFail[k]; ok {
		return &prospeo.SearchResponse{Status: prospeo.Status{Error: true, ErrorCode: code, HTTPStatus: 400}}, nil
	}
	n, ok := g.counts[k]
	if !ok {
		return nil, fmt.Errorf("unexpected company query %q", k)
	}

	resp := &prospeo.SearchResponse{Pagination: prospeo.Pagination{
		CurrentPage: page,
		PerPage:     prospeo.PageSize,
		TotalCount:  n,
		TotalPage:   (n + prospeo.PageSize - 1) / prospeo.PageSize,
	}}
	if page == 1 {
		resp.Results = g.rows[k]
	}
	return resp, nil
}

func (g *fakeGateway) SearchPeople(ctx context.Context, filters any, _ int) (*prospeo.SearchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pf := filters.(filter.PersonFilters)
	k := personKey(pf)

	g.mu.Lock()
	g.personCalls = append(g.personCalls, k)
	g.lastPerson = pf
	g.mu.Unlock()

	if g.peopleNet[k] {
		return nil, errors.New("timeout")
	}
	if code, ok := g.peopleFail[k]; ok {
		return &prospeo.SearchResponse{Status: prospeo.Status{Error: true, ErrorCode: code, HTTPStatus: 400}}, nil
	}
	n := g.people[k]
	resp := &prospeo.SearchResponse{Pagination: prospeo.Pagination{CurrentPage: 1, PerPage: prospeo.PageSize, TotalCount: n}}
	for i := 0; i < min(n, 3); i++ {
		resp.Results = append(resp.Results, json.RawMessage(fmt.Sprintf(
			`{"person":{"first_name":"Pat","last_name":"Lee %d","job_title":"CTO","seniority":"C-Suite"}}`, i)))
	}
	return resp, nil
}

func (g *fakeGateway) calls(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.companyCalls[key]
}

func (g *fakeGateway) personDomains() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.personCalls...)
}

// companyRow builds a gateway company object.
func companyRow(id, name, domain, website string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"company":{"company_id":%q,"name":%q,"domain":%q,"website":%q,"industry":"Software","employee_count":42,"location":{"country":"United States","city":"Austin"}}}`,
		id, name, domain, website))
}

// companyRows builds n distinct companies tagged with prefix.
func companyRows(prefix string, n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		d := fmt.Sprintf("%s%d-widgets.com", prefix, i)
		out[i] = companyRow(fmt.Sprintf("%s-%d", prefix, i), fmt.Sprintf("%s Widgets %d", prefix, i), d, "https://www."+d)
	}
	return out
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "tam.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

var engineers = filter.PersonQuery{
	Name:    "Engineers",
	Filters: filter.PersonFilters{"person_department": map[string]any{"include": []any{"Engineering"}}},
}

func createJob(t *testing.T, st store.Store, req JobRequest) *model.Job {
	t.Helper()
	if req.Policy == (model.DedupPolicy{}) {
		req.Policy = model.DefaultDedupPolicy()
	}
	job, err := NewJob(req, time.Now())
	require.NoError(t, err)
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}
