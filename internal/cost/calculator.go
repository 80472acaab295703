// Package cost prices gateway usage in credits.
package cost

import (
	"sync"

	"github.com/charlie-wiebe/market-sizing-tool/pkg/prospeo"
)

// Rates holds the credit price of each billable gateway call.
type Rates struct {
	CompanyPage int `yaml:"company_page" mapstructure:"company_page"`
	PersonQuery int `yaml:"person_query" mapstructure:"person_query"`
}

// DefaultRates returns the gateway's published pricing: one credit per
// search request of either kind.
func DefaultRates() Rates {
	return Rates{CompanyPage: 1, PersonQuery: 1}
}

// Calculator computes credit costs for gateway usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// CompanyPages is the cost of fetching n company result pages.
func (c *Calculator) CompanyPages(n int) int {
	return n * c.rates.CompanyPage
}

// PersonQueries is the cost of running n person count queries.
func (c *Calculator) PersonQueries(n int) int {
	return n * c.rates.PersonQuery
}

// Breakdown splits a credit figure by call type.
type Breakdown struct {
	CompanySearch  int `json:"company_search"`
	PersonSearches int `json:"person_searches"`
}

// Total is the sum of both parts.
func (b Breakdown) Total() int {
	return b.CompanySearch + b.PersonSearches
}

// Estimate prices walking companies results page by page and running
// personQueries sub-queries for each company.
func (c *Calculator) Estimate(companies, personQueries int) Breakdown {
	if companies < 0 {
		companies = 0
	}
	pages := (companies + prospeo.PageSize - 1) / prospeo.PageSize
	return Breakdown{
		CompanySearch:  c.CompanyPages(pages),
		PersonSearches: c.PersonQueries(companies * personQueries),
	}
}

// Tracker accumulates the credits one job spends.
type Tracker struct {
	mu    sync.Mutex
	calc  *Calculator
	spent Breakdown
}

// NewTracker creates a tracker pricing with c.
func (c *Calculator) NewTracker() *Tracker {
	return &Tracker{calc: c}
}

// CompanyPage records one company page fetch and returns its cost.
func (t *Tracker) CompanyPage() int {
	n := t.calc.CompanyPages(1)
	t.mu.Lock()
	t.spent.CompanySearch += n
	t.mu.Unlock()
	return n
}

// PersonQuery records one person count query and returns its cost.
func (t *Tracker) PersonQuery() int {
	n := t.calc.PersonQueries(1)
	t.mu.Lock()
	t.spent.PersonSearches += n
	t.mu.Unlock()
	return n
}

// Spent returns the credits recorded so far.
func (t *Tracker) Spent() Breakdown {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spent
}
