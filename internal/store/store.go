// Package store persists jobs, the global company table, and the
// append-only person count and enrichment histories.
package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/charlie-wiebe/market-sizing-tool/internal/company"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = eris.New("store: not found")

// PersonCountLookup identifies the company and sub-query a reusable person
// count is wanted for. Lookups try ExternalID first, then RootDomain across
// every company sharing it.
type PersonCountLookup struct {
	ExternalID string
	RootDomain string
	QueryName  string
	Since      time.Time
}

// Store defines the persistence interface for market sizing jobs.
type Store interface {
	company.Store

	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error)
	// MarkRunning moves a pending job to running. It reports false when the
	// job was not pending.
	MarkRunning(ctx context.Context, id string, at time.Time) (bool, error)
	UpdateJobProgress(ctx context.Context, id string, p model.Progress) error
	// FinishJob writes a terminal status only while the job is still
	// running, so an explicit stop is never overwritten.
	FinishJob(ctx context.Context, id string, status model.JobStatus, errMsg string, at time.Time) (bool, error)
	// MarkStopped stops a pending or running job. It reports false when the
	// job was already terminal.
	MarkStopped(ctx context.Context, id string, at time.Time) (bool, error)
	SaveAggregateResults(ctx context.Context, id string, results map[string]int) error
	// FindJobByFingerprint returns the newest completed or running job with
	// the fingerprint, or nil.
	FindJobByFingerprint(ctx context.Context, fingerprint string) (*model.Job, error)
	ListStaleRunningJobs(ctx context.Context, updatedBefore time.Time) ([]model.Job, error)

	// Companies
	GetCompany(ctx context.Context, id int64) (*company.Record, error)
	ListJobCompanies(ctx context.Context, jobID string, limit, offset int) ([]company.Record, int, error)

	// Person counts
	SavePersonCount(ctx context.Context, pc *model.PersonCount) error
	FindFreshPersonCount(ctx context.Context, lookup PersonCountLookup) (*model.PersonCount, error)
	JobPersonCounts(ctx context.Context, jobID string) ([]model.PersonCount, error)
	AggregatePersonCounts(ctx context.Context, jobID string) (map[string]int, error)

	// Enrichment
	SaveEnrichment(ctx context.Context, e *model.Enrichment) error
	FindFreshEnrichment(ctx context.Context, companyID int64, since time.Time) (*model.Enrichment, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store selected by driver.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "postgres":
		s, err := NewPostgres(ctx, dsn, poolCfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite", "":
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

type scannable interface {
	Scan(dest ...any) error
}

// lockKey is the advisory lock key for one active-record pair.
// containsPattern is a LIKE pattern matching s anywhere, with s's own
// wildcards escaped by backslash.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func lockKey(table string, companyID int64, name string) string {
	return table + ":" + name + ":" + strconv.FormatInt(companyID, 10)
}
