package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/charlie-wiebe/market-sizing-tool/internal/company"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The pool is pinned to one connection so writers queue in-process instead
// of failing with SQLITE_BUSY.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                          TEXT PRIMARY KEY,
	name                        TEXT NOT NULL,
	status                      TEXT NOT NULL DEFAULT 'pending',
	mode                        TEXT NOT NULL DEFAULT 'detailed',
	company_filters             TEXT NOT NULL,
	person_filters              TEXT NOT NULL DEFAULT '[]',
	query_fingerprint           TEXT NOT NULL DEFAULT '',
	aggregate_results           TEXT,
	skip_existing_companies     INTEGER NOT NULL DEFAULT 1,
	skip_existing_person_counts INTEGER NOT NULL DEFAULT 1,
	skip_existing_enrichment    INTEGER NOT NULL DEFAULT 1,
	max_data_age_days           INTEGER NOT NULL DEFAULT 30,
	total_companies             INTEGER NOT NULL DEFAULT 0,
	processed_companies         INTEGER NOT NULL DEFAULT 0,
	estimated_credits           INTEGER NOT NULL DEFAULT 0,
	actual_credits              INTEGER NOT NULL DEFAULT 0,
	companies_skipped           INTEGER NOT NULL DEFAULT 0,
	person_counts_skipped       INTEGER NOT NULL DEFAULT 0,
	enrichment_skipped          INTEGER NOT NULL DEFAULT 0,
	error_message               TEXT NOT NULL DEFAULT '',
	started_at                  DATETIME,
	completed_at                DATETIME,
	created_at                  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at                  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_fingerprint ON jobs(query_fingerprint);

CREATE TABLE IF NOT EXISTS companies (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id      TEXT UNIQUE,
	name             TEXT NOT NULL DEFAULT '',
	website          TEXT NOT NULL DEFAULT '',
	domain           TEXT NOT NULL DEFAULT '',
	root_domain      TEXT NOT NULL DEFAULT '',
	industry         TEXT NOT NULL DEFAULT '',
	employee_count   INTEGER,
	employee_range   TEXT NOT NULL DEFAULT '',
	location_country TEXT NOT NULL DEFAULT '',
	location_city    TEXT NOT NULL DEFAULT '',
	location_state   TEXT NOT NULL DEFAULT '',
	linkedin_url     TEXT NOT NULL DEFAULT '',
	details          TEXT NOT NULL DEFAULT '{}',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_companies_root_domain ON companies(root_domain);
CREATE INDEX IF NOT EXISTS idx_companies_name ON companies(name);

CREATE TABLE IF NOT EXISTS company_job_refs (
	company_id INTEGER NOT NULL REFERENCES companies(id),
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (company_id, job_id)
);

CREATE INDEX IF NOT EXISTS idx_company_job_refs_job ON company_job_refs(job_id);

CREATE TABLE IF NOT EXISTS person_counts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id  INTEGER NOT NULL REFERENCES companies(id),
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	external_id TEXT NOT NULL DEFAULT '',
	query_name  TEXT NOT NULL,
	total_count INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'ok',
	error_code  TEXT NOT NULL DEFAULT '',
	is_active   INTEGER NOT NULL DEFAULT 1,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_person_counts_job ON person_counts(job_id);
CREATE INDEX IF NOT EXISTS idx_person_counts_lookup ON person_counts(company_id, query_name, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_person_counts_active
	ON person_counts(company_id, query_name) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS enrichments (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id         INTEGER NOT NULL REFERENCES companies(id),
	job_id             TEXT NOT NULL REFERENCES jobs(id),
	hubspot_object_id  TEXT NOT NULL DEFAULT '',
	vertical           TEXT NOT NULL DEFAULT '',
	lookup_method      TEXT NOT NULL DEFAULT 'no_match',
	hubspot_created_at DATETIME,
	is_active          INTEGER NOT NULL DEFAULT 1,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_enrichments_active
	ON enrichments(company_id) WHERE is_active = 1;
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	docs, err := encodeJob(job)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, name, status, mode, company_filters, person_filters, query_fingerprint,
			skip_existing_companies, skip_existing_person_counts, skip_existing_enrichment, max_data_age_days,
			estimated_credits, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, string(job.Status), string(job.Mode), string(docs.company), string(docs.person),
		job.Fingerprint, job.Policy.SkipCompanies, job.Policy.SkipPersonCounts, job.Policy.SkipEnrichment,
		job.Policy.MaxDataAgeDays, job.EstimatedCredits, now, now,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get job")
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *SQLiteStore) MarkRunning(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'running', started_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		at, at, id)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: mark running")
	}
	return affectedOne(res)
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, id string, p model.Progress) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET total_companies = ?, estimated_credits = ?, processed_companies = ?,
			actual_credits = ?, companies_skipped = ?, person_counts_skipped = ?,
			enrichment_skipped = ?, updated_at = ?
		WHERE id = ?`,
		p.TotalCompanies, p.EstimatedCredits, p.ProcessedCompanies, p.ActualCredits,
		p.CompaniesSkipped, p.PersonCountsSkipped, p.EnrichmentSkipped, time.Now().UTC(), id)
	return eris.Wrap(err, "sqlite: update job progress")
}

func (s *SQLiteStore) FinishJob(ctx context.Context, id string, status model.JobStatus, errMsg string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		string(status), errMsg, at, at, id)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: finish job")
	}
	return affectedOne(res)
}

func (s *SQLiteStore) MarkStopped(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'stopped', completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`,
		at, at, id)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: mark stopped")
	}
	return affectedOne(res)
}

func (s *SQLiteStore) SaveAggregateResults(ctx context.Context, id string, results map[string]int) error {
	b, err := json.Marshal(results)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal aggregate results")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE jobs SET aggregate_results = ?, updated_at = ? WHERE id = ?`,
		string(b), time.Now().UTC(), id)
	return eris.Wrap(err, "sqlite: save aggregate results")
}

func (s *SQLiteStore) FindJobByFingerprint(ctx context.Context, fingerprint string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		WHERE query_fingerprint = ? AND status IN ('completed', 'running')
		ORDER BY created_at DESC LIMIT 1`,
		fingerprint)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find job by fingerprint")
	}
	return j, nil
}

func (s *SQLiteStore) ListStaleRunningJobs(ctx context.Context, updatedBefore time.Time) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'running' AND updated_at < ? ORDER BY updated_at`,
		updatedBefore.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]model.Job, error) {
	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: jobs rows")
}

// --- companies ---

func (s *SQLiteStore) GetCompany(ctx context.Context, id int64) (*company.Record, error) {
	return s.oneCompany(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ?`, id)
}

func (s *SQLiteStore) GetCompanyByExternalID(ctx context.Context, externalID string) (*company.Record, error) {
	return s.oneCompany(ctx, `SELECT `+companyColumns+` FROM companies WHERE external_id = ?`, externalID)
}

func (s *SQLiteStore) FindCompanyByName(ctx context.Context, name string) (*company.Record, error) {
	return s.oneCompany(ctx, `SELECT `+companyColumns+` FROM companies WHERE name = ? ORDER BY id LIMIT 1`, name)
}

func (s *SQLiteStore) oneCompany(ctx context.Context, query string, args ...any) (*company.Record, error) {
	c, err := scanCompany(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get company")
	}
	return c, nil
}

func (s *SQLiteStore) FindCompaniesByDomain(ctx context.Context, root string) ([]company.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+companyColumns+` FROM companies
		WHERE root_domain = ?1 OR domain LIKE ?2 ESCAPE '\' OR website LIKE ?2 ESCAPE '\'
		ORDER BY (root_domain = ?1) DESC, id LIMIT 50`,
		root, containsPattern(root))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find companies by domain")
	}
	defer rows.Close()
	return collectSQLiteCompanies(rows)
}

func (s *SQLiteStore) UpsertCompanyByExternalID(ctx context.Context, rec *company.Record) error {
	if rec.ExternalID == "" {
		return eris.New("sqlite: upsert company without external id")
	}
	details, err := marshalDetails(rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	var id int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var stored string
		err := tx.QueryRowContext(ctx, `SELECT details FROM companies WHERE external_id = ?`, rec.ExternalID).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return eris.Wrap(err, "sqlite: read company details")
		default:
			if details, err = overlayDetails([]byte(stored), details); err != nil {
				return err
			}
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO companies (external_id, name, website, domain, root_domain, industry, employee_count,
				employee_range, location_country, location_city, location_state, linkedin_url, details,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (external_id) DO UPDATE SET
				name = COALESCE(NULLIF(excluded.name, ''), companies.name),
				website = COALESCE(NULLIF(excluded.website, ''), companies.website),
				domain = COALESCE(NULLIF(excluded.domain, ''), companies.domain),
				root_domain = COALESCE(NULLIF(excluded.root_domain, ''), companies.root_domain),
				industry = COALESCE(NULLIF(excluded.industry, ''), companies.industry),
				employee_count = COALESCE(excluded.employee_count, companies.employee_count),
				employee_range = COALESCE(NULLIF(excluded.employee_range, ''), companies.employee_range),
				location_country = COALESCE(NULLIF(excluded.location_country, ''), companies.location_country),
				location_city = COALESCE(NULLIF(excluded.location_city, ''), companies.location_city),
				location_state = COALESCE(NULLIF(excluded.location_state, ''), companies.location_state),
				linkedin_url = COALESCE(NULLIF(excluded.linkedin_url, ''), companies.linkedin_url),
				details = excluded.details,
				updated_at = excluded.updated_at
			RETURNING id`,
			rec.ExternalID, rec.Name, rec.Website, rec.Domain, rec.RootDomain, rec.Industry, rec.EmployeeCount,
			rec.EmployeeRange, rec.Country, rec.City, rec.State, rec.LinkedInURL, string(details), now, now,
		).Scan(&id)
		return eris.Wrap(err, "sqlite: upsert company")
	})
	if err != nil {
		return err
	}
	stored, err := s.GetCompany(ctx, id)
	if err != nil {
		return err
	}
	if stored == nil {
		return eris.Errorf("sqlite: upserted company %d vanished", id)
	}
	*rec = *stored
	return nil
}

func (s *SQLiteStore) CreateCompany(ctx context.Context, rec *company.Record) error {
	details, err := marshalDetails(rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (external_id, name, website, domain, root_domain, industry, employee_count,
			employee_range, location_country, location_city, location_state, linkedin_url, details,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		externalID(rec), rec.Name, rec.Website, rec.Domain, rec.RootDomain, rec.Industry, rec.EmployeeCount,
		rec.EmployeeRange, rec.Country, rec.City, rec.State, rec.LinkedInURL, string(details), now, now,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert company")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: company id")
	}
	rec.ID = id
	rec.CreatedAt, rec.UpdatedAt = now, now
	return nil
}

func (s *SQLiteStore) UpdateCompany(ctx context.Context, rec *company.Record) error {
	details, err := marshalDetails(rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET external_id = ?, name = ?, website = ?, domain = ?, root_domain = ?,
			industry = ?, employee_count = ?, employee_range = ?, location_country = ?,
			location_city = ?, location_state = ?, linkedin_url = ?, details = ?, updated_at = ?
		WHERE id = ?`,
		externalID(rec), rec.Name, rec.Website, rec.Domain, rec.RootDomain, rec.Industry,
		rec.EmployeeCount, rec.EmployeeRange, rec.Country, rec.City, rec.State, rec.LinkedInURL,
		string(details), now, rec.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update company")
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return eris.Errorf("sqlite: company %d not found", rec.ID)
	}
	rec.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) LinkCompanyToJob(ctx context.Context, companyID int64, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO company_job_refs (company_id, job_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (company_id, job_id) DO NOTHING`,
		companyID, jobID, time.Now().UTC())
	return eris.Wrap(err, "sqlite: link company to job")
}

func (s *SQLiteStore) ListJobCompanies(ctx context.Context, jobID string, limit, offset int) ([]company.Record, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM company_job_refs WHERE job_id = ?`, jobID,
	).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count job companies")
	}

	query := `SELECT ` + prefixed("c", companyColumns) + ` FROM companies c
		JOIN company_job_refs r ON r.company_id = c.id
		WHERE r.job_id = ? ORDER BY c.id`
	args := []any{jobID}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list job companies")
	}
	defer rows.Close()

	out, err := collectSQLiteCompanies(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func collectSQLiteCompanies(rows *sql.Rows) ([]company.Record, error) {
	var out []company.Record
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: companies rows")
}

// --- person counts ---

// SavePersonCount appends pc as the active row for its (company, query)
// pair inside one transaction.
func (s *SQLiteStore) SavePersonCount(ctx context.Context, pc *model.PersonCount) error {
	now := time.Now().UTC()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE person_counts SET is_active = 0 WHERE company_id = ? AND query_name = ? AND is_active = 1`,
			pc.CompanyID, pc.QueryName); err != nil {
			return eris.Wrap(err, "sqlite: deactivate person counts")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO person_counts (company_id, job_id, external_id, query_name, total_count,
				status, error_code, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			pc.CompanyID, pc.JobID, pc.ExternalID, pc.QueryName, pc.TotalCount,
			string(pc.Status), pc.ErrorCode, now)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert person count")
		}
		pc.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return eris.Wrap(err, "sqlite: save person count")
	}
	pc.IsActive = true
	pc.CreatedAt = now
	return nil
}

func (s *SQLiteStore) FindFreshPersonCount(ctx context.Context, lookup PersonCountLookup) (*model.PersonCount, error) {
	base := `SELECT ` + prefixed("pc", personCountColumns) + `
		FROM person_counts pc JOIN companies c ON c.id = pc.company_id
		WHERE pc.is_active = 1 AND pc.query_name = ? AND pc.created_at >= ? AND `
	since := lookup.Since.UTC()

	if lookup.ExternalID != "" {
		pc, err := s.freshPersonCount(ctx, base+`c.external_id = ? ORDER BY pc.created_at DESC LIMIT 1`,
			lookup.QueryName, since, lookup.ExternalID)
		if err != nil || pc != nil {
			return pc, err
		}
	}
	if lookup.RootDomain != "" {
		return s.freshPersonCount(ctx, base+`c.root_domain = ? ORDER BY pc.created_at DESC LIMIT 1`,
			lookup.QueryName, since, lookup.RootDomain)
	}
	return nil, nil
}

func (s *SQLiteStore) freshPersonCount(ctx context.Context, query string, args ...any) (*model.PersonCount, error) {
	pc, err := scanPersonCount(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find fresh person count")
	}
	return pc, nil
}

func (s *SQLiteStore) JobPersonCounts(ctx context.Context, jobID string) ([]model.PersonCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+personCountColumns+` FROM person_counts WHERE job_id = ? ORDER BY company_id, query_name, id`,
		jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: job person counts")
	}
	defer rows.Close()

	var out []model.PersonCount
	for rows.Next() {
		pc, err := scanPersonCount(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan person count")
		}
		out = append(out, *pc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: person count rows")
}

func (s *SQLiteStore) AggregatePersonCounts(ctx context.Context, jobID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT query_name, COALESCE(SUM(total_count), 0) FROM person_counts
		WHERE job_id = ? GROUP BY query_name`,
		jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: aggregate person counts")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var total int64
		if err := rows.Scan(&name, &total); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan aggregate")
		}
		out[name] = int(total)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: aggregate rows")
}

// --- enrichment ---

func (s *SQLiteStore) SaveEnrichment(ctx context.Context, e *model.Enrichment) error {
	now := time.Now().UTC()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE enrichments SET is_active = 0 WHERE company_id = ? AND is_active = 1`,
			e.CompanyID); err != nil {
			return eris.Wrap(err, "sqlite: deactivate enrichments")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO enrichments (company_id, job_id, hubspot_object_id, vertical, lookup_method,
				hubspot_created_at, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
			e.CompanyID, e.JobID, e.HubSpotObjectID, e.Vertical, string(e.LookupMethod),
			e.HubSpotCreatedAt, now)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert enrichment")
		}
		e.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return eris.Wrap(err, "sqlite: save enrichment")
	}
	e.IsActive = true
	e.CreatedAt = now
	return nil
}

func (s *SQLiteStore) FindFreshEnrichment(ctx context.Context, companyID int64, since time.Time) (*model.Enrichment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+enrichmentColumns+` FROM enrichments
		WHERE company_id = ? AND is_active = 1 AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`,
		companyID, since.UTC())
	e, err := scanEnrichment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find fresh enrichment")
	}
	return e, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}
