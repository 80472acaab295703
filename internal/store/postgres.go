package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/charlie-wiebe/market-sizing-tool/internal/company"
	"github.com/charlie-wiebe/market-sizing-tool/internal/db"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                          TEXT PRIMARY KEY,
	name                        TEXT NOT NULL,
	status                      TEXT NOT NULL DEFAULT 'pending',
	mode                        TEXT NOT NULL DEFAULT 'detailed',
	company_filters             JSONB NOT NULL,
	person_filters              JSONB NOT NULL DEFAULT '[]',
	query_fingerprint           TEXT NOT NULL DEFAULT '',
	aggregate_results           JSONB,
	skip_existing_companies     BOOLEAN NOT NULL DEFAULT TRUE,
	skip_existing_person_counts BOOLEAN NOT NULL DEFAULT TRUE,
	skip_existing_enrichment    BOOLEAN NOT NULL DEFAULT TRUE,
	max_data_age_days           INTEGER NOT NULL DEFAULT 30,
	total_companies             INTEGER NOT NULL DEFAULT 0,
	processed_companies         INTEGER NOT NULL DEFAULT 0,
	estimated_credits           INTEGER NOT NULL DEFAULT 0,
	actual_credits              INTEGER NOT NULL DEFAULT 0,
	companies_skipped           INTEGER NOT NULL DEFAULT 0,
	person_counts_skipped       INTEGER NOT NULL DEFAULT 0,
	enrichment_skipped          INTEGER NOT NULL DEFAULT 0,
	error_message               TEXT NOT NULL DEFAULT '',
	started_at                  TIMESTAMPTZ,
	completed_at                TIMESTAMPTZ,
	created_at                  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_fingerprint ON jobs(query_fingerprint);

CREATE TABLE IF NOT EXISTS companies (
	id               BIGSERIAL PRIMARY KEY,
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
	details          JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_root_domain ON companies(root_domain);
CREATE INDEX IF NOT EXISTS idx_companies_name ON companies(name);

CREATE TABLE IF NOT EXISTS company_job_refs (
	company_id BIGINT NOT NULL REFERENCES companies(id),
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company_id, job_id)
);

CREATE INDEX IF NOT EXISTS idx_company_job_refs_job ON company_job_refs(job_id);

CREATE TABLE IF NOT EXISTS person_counts (
	id          BIGSERIAL PRIMARY KEY,
	company_id  BIGINT NOT NULL REFERENCES companies(id),
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	external_id TEXT NOT NULL DEFAULT '',
	query_name  TEXT NOT NULL,
	total_count INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'ok',
	error_code  TEXT NOT NULL DEFAULT '',
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_person_counts_job ON person_counts(job_id);
CREATE INDEX IF NOT EXISTS idx_person_counts_lookup ON person_counts(company_id, query_name, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_person_counts_active
	ON person_counts(company_id, query_name) WHERE is_active;

CREATE TABLE IF NOT EXISTS enrichments (
	id                 BIGSERIAL PRIMARY KEY,
	company_id         BIGINT NOT NULL REFERENCES companies(id),
	job_id             TEXT NOT NULL REFERENCES jobs(id),
	hubspot_object_id  TEXT NOT NULL DEFAULT '',
	vertical           TEXT NOT NULL DEFAULT '',
	lookup_method      TEXT NOT NULL DEFAULT 'no_match',
	hubspot_created_at TIMESTAMPTZ,
	is_active          BOOLEAN NOT NULL DEFAULT TRUE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_enrichments_active
	ON enrichments(company_id) WHERE is_active;
`

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, name, status, mode, company_filters, person_filters, query_fingerprint,
			skip_existing_companies, skip_existing_person_counts, skip_existing_enrichment, max_data_age_days,
			estimated_credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.Name, string(job.Status), string(job.Mode), docs.company, docs.person, job.Fingerprint,
		job.Policy.SkipCompanies, job.Policy.SkipPersonCounts, job.Policy.SkipEnrichment, job.Policy.MaxDataAgeDays,
		job.EstimatedCredits, now, now,
	)
	return eris.Wrap(err, "postgres: insert job")
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get job")
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	argN := 1

	if filter.Status != "" {
		query += ` AND status = $` + strconv.Itoa(argN)
		args = append(args, string(filter.Status))
		argN++
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(argN)
		args = append(args, filter.Limit)
		argN++
	}
	if filter.Offset > 0 {
		query += ` OFFSET $` + strconv.Itoa(argN)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs rows")
}

func (s *PostgresStore) MarkRunning(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'running', started_at = $2, updated_at = $2 WHERE id = $1 AND status = 'pending'`,
		id, at)
	if err != nil {
		return false, eris.Wrap(err, "postgres: mark running")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id string, p model.Progress) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET total_companies = $2, estimated_credits = $3, processed_companies = $4,
			actual_credits = $5, companies_skipped = $6, person_counts_skipped = $7,
			enrichment_skipped = $8, updated_at = $9
		WHERE id = $1`,
		id, p.TotalCompanies, p.EstimatedCredits, p.ProcessedCompanies, p.ActualCredits,
		p.CompaniesSkipped, p.PersonCountsSkipped, p.EnrichmentSkipped, time.Now().UTC())
	return eris.Wrap(err, "postgres: update job progress")
}

func (s *PostgresStore) FinishJob(ctx context.Context, id string, status model.JobStatus, errMsg string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, error_message = $3, completed_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'running'`,
		id, string(status), errMsg, at)
	if err != nil {
		return false, eris.Wrap(err, "postgres: finish job")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkStopped(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'stopped', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'running')`,
		id, at)
	if err != nil {
		return false, eris.Wrap(err, "postgres: mark stopped")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SaveAggregateResults(ctx context.Context, id string, results map[string]int) error {
	b, err := json.Marshal(results)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal aggregate results")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE jobs SET aggregate_results = $2, updated_at = $3 WHERE id = $1`,
		id, b, time.Now().UTC())
	return eris.Wrap(err, "postgres: save aggregate results")
}

func (s *PostgresStore) FindJobByFingerprint(ctx context.Context, fingerprint string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		WHERE query_fingerprint = $1 AND status IN ('completed', 'running')
		ORDER BY created_at DESC LIMIT 1`,
		fingerprint)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find job by fingerprint")
	}
	return j, nil
}

func (s *PostgresStore) ListStaleRunningJobs(ctx context.Context, updatedBefore time.Time) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'running' AND updated_at < $1 ORDER BY updated_at`,
		updatedBefore)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan stale job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list stale jobs rows")
}

// --- companies ---

func (s *PostgresStore) GetCompany(ctx context.Context, id int64) (*company.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
	c, err := scanCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get company")
	}
	return c, nil
}

func (s *PostgresStore) GetCompanyByExternalID(ctx context.Context, externalID string) (*company.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE external_id = $1`, externalID)
	c, err := scanCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get company by external id")
	}
	return c, nil
}

func (s *PostgresStore) FindCompaniesByDomain(ctx context.Context, root string) ([]company.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+companyColumns+` FROM companies
		WHERE root_domain = $1 OR domain ILIKE $2 ESCAPE '\' OR website ILIKE $2 ESCAPE '\'
		ORDER BY (root_domain = $1) DESC, id LIMIT 50`,
		root, containsPattern(root))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find companies by domain")
	}
	defer rows.Close()
	return collectCompanies(rows)
}

func (s *PostgresStore) FindCompanyByName(ctx context.Context, name string) (*company.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE name = $1 ORDER BY id LIMIT 1`, name)
	c, err := scanCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find company by name")
	}
	return c, nil
}

func (s *PostgresStore) UpsertCompanyByExternalID(ctx context.Context, rec *company.Record) error {
	if rec.ExternalID == "" {
		return eris.New("postgres: upsert company without external id")
	}
	details, err := marshalDetails(rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO companies (external_id, name, website, domain, root_domain, industry, employee_count,
			employee_range, location_country, location_city, location_state, linkedin_url, details,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (external_id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), companies.name),
			website = COALESCE(NULLIF(EXCLUDED.website, ''), companies.website),
			domain = COALESCE(NULLIF(EXCLUDED.domain, ''), companies.domain),
			root_domain = COALESCE(NULLIF(EXCLUDED.root_domain, ''), companies.root_domain),
			industry = COALESCE(NULLIF(EXCLUDED.industry, ''), companies.industry),
			employee_count = COALESCE(EXCLUDED.employee_count, companies.employee_count),
			employee_range = COALESCE(NULLIF(EXCLUDED.employee_range, ''), companies.employee_range),
			location_country = COALESCE(NULLIF(EXCLUDED.location_country, ''), companies.location_country),
			location_city = COALESCE(NULLIF(EXCLUDED.location_city, ''), companies.location_city),
			location_state = COALESCE(NULLIF(EXCLUDED.location_state, ''), companies.location_state),
			linkedin_url = COALESCE(NULLIF(EXCLUDED.linkedin_url, ''), companies.linkedin_url),
			details = companies.details || EXCLUDED.details,
			updated_at = EXCLUDED.updated_at
		RETURNING `+companyColumns,
		rec.ExternalID, rec.Name, rec.Website, rec.Domain, rec.RootDomain, rec.Industry, rec.EmployeeCount,
		rec.EmployeeRange, rec.Country, rec.City, rec.State, rec.LinkedInURL, details, now,
	)
	stored, err := scanCompany(row)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert company")
	}
	*rec = *stored
	return nil
}

func (s *PostgresStore) CreateCompany(ctx context.Context, rec *company.Record) error {
	details, err := marshalDetails(rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = s.pool.QueryRow(ctx,
		`INSERT INTO companies (external_id, name, website, domain, root_domain, industry, employee_count,
			employee_range, location_country, location_city, location_state, linkedin_url, details,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		RETURNING id`,
		externalID(rec), rec.Name, rec.Website, rec.Domain, rec.RootDomain, rec.Industry, rec.EmployeeCount,
		rec.EmployeeRange, rec.Country, rec.City, rec.State, rec.LinkedInURL, details, now,
	).Scan(&rec.ID)
	if err != nil {
		return eris.Wrap(err, "postgres: insert company")
	}
	rec.CreatedAt, rec.UpdatedAt = now, now
	return nil
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, rec *company.Record) error {
	details, err := marshalDetails(rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET external_id = $2, name = $3, website = $4, domain = $5, root_domain = $6,
			industry = $7, employee_count = $8, employee_range = $9, location_country = $10,
			location_city = $11, location_state = $12, linkedin_url = $13, details = $14, updated_at = $15
		WHERE id = $1`,
		rec.ID, externalID(rec), rec.Name, rec.Website, rec.Domain, rec.RootDomain, rec.Industry,
		rec.EmployeeCount, rec.EmployeeRange, rec.Country, rec.City, rec.State, rec.LinkedInURL, details, now,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update company")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: company %d not found", rec.ID)
	}
	rec.UpdatedAt = now
	return nil
}

func (s *PostgresStore) LinkCompanyToJob(ctx context.Context, companyID int64, jobID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO company_job_refs (company_id, job_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (company_id, job_id) DO NOTHING`,
		companyID, jobID, time.Now().UTC())
	return eris.Wrap(err, "postgres: link company to job")
}

func (s *PostgresStore) ListJobCompanies(ctx context.Context, jobID string, limit, offset int) ([]company.Record, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM company_job_refs WHERE job_id = $1`, jobID,
	).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count job companies")
	}

	query := `SELECT ` + prefixed("c", companyColumns) + ` FROM companies c
		JOIN company_job_refs r ON r.company_id = c.id
		WHERE r.job_id = $1 ORDER BY c.id`
	args := []any{jobID}
	if limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list job companies")
	}
	defer rows.Close()

	out, err := collectCompanies(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func collectCompanies(rows pgx.Rows) ([]company.Record, error) {
	var out []company.Record
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: companies rows")
}

// --- person counts ---

// SavePersonCount appends pc as the active row for its (company, query)
// pair. The advisory lock serializes writers on the same pair only.
func (s *PostgresStore) SavePersonCount(ctx context.Context, pc *model.PersonCount) error {
	now := time.Now().UTC()
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
			lockKey("person_counts", pc.CompanyID, pc.QueryName)); err != nil {
			return eris.Wrap(err, "postgres: lock person count")
		}
		if _, err := tx.Exec(ctx,
			`UPDATE person_counts SET is_active = FALSE
			WHERE company_id = $1 AND query_name = $2 AND is_active`,
			pc.CompanyID, pc.QueryName); err != nil {
			return eris.Wrap(err, "postgres: deactivate person counts")
		}
		return tx.QueryRow(ctx,
			`INSERT INTO person_counts (company_id, job_id, external_id, query_name, total_count,
				status, error_code, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8) RETURNING id`,
			pc.CompanyID, pc.JobID, pc.ExternalID, pc.QueryName, pc.TotalCount,
			string(pc.Status), pc.ErrorCode, now,
		).Scan(&pc.ID)
	})
	if err != nil {
		return eris.Wrap(err, "postgres: save person count")
	}
	pc.IsActive = true
	pc.CreatedAt = now
	return nil
}

func (s *PostgresStore) FindFreshPersonCount(ctx context.Context, lookup PersonCountLookup) (*model.PersonCount, error) {
	base := `SELECT ` + prefixed("pc", personCountColumns) + `
		FROM person_counts pc JOIN companies c ON c.id = pc.company_id
		WHERE pc.is_active AND pc.query_name = $1 AND pc.created_at >= $2 AND `

	if lookup.ExternalID != "" {
		pc, err := s.freshPersonCount(ctx, base+`c.external_id = $3 ORDER BY pc.created_at DESC LIMIT 1`,
			lookup.QueryName, lookup.Since, lookup.ExternalID)
		if err != nil || pc != nil {
			return pc, err
		}
	}
	if lookup.RootDomain != "" {
		return s.freshPersonCount(ctx, base+`c.root_domain = $3 ORDER BY pc.created_at DESC LIMIT 1`,
			lookup.QueryName, lookup.Since, lookup.RootDomain)
	}
	return nil, nil
}

func (s *PostgresStore) freshPersonCount(ctx context.Context, query string, args ...any) (*model.PersonCount, error) {
	pc, err := scanPersonCount(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find fresh person count")
	}
	return pc, nil
}

func (s *PostgresStore) JobPersonCounts(ctx context.Context, jobID string) ([]model.PersonCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+personCountColumns+` FROM person_counts WHERE job_id = $1 ORDER BY company_id, query_name, id`,
		jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: job person counts")
	}
	defer rows.Close()

	var out []model.PersonCount
	for rows.Next() {
		pc, err := scanPersonCount(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan person count")
		}
		out = append(out, *pc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: person count rows")
}

func (s *PostgresStore) AggregatePersonCounts(ctx context.Context, jobID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT query_name, COALESCE(SUM(total_count), 0) FROM person_counts
		WHERE job_id = $1 GROUP BY query_name`,
		jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: aggregate person counts")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var total int64
		if err := rows.Scan(&name, &total); err != nil {
			return nil, eris.Wrap(err, "postgres: scan aggregate")
		}
		out[name] = int(total)
	}
	return out, eris.Wrap(rows.Err(), "postgres: aggregate rows")
}

// --- enrichment ---

func (s *PostgresStore) SaveEnrichment(ctx context.Context, e *model.Enrichment) error {
	now := time.Now().UTC()
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
			lockKey("enrichments", e.CompanyID, "")); err != nil {
			return eris.Wrap(err, "postgres: lock enrichment")
		}
		if _, err := tx.Exec(ctx,
			`UPDATE enrichments SET is_active = FALSE WHERE company_id = $1 AND is_active`,
			e.CompanyID); err != nil {
			return eris.Wrap(err, "postgres: deactivate enrichments")
		}
		return tx.QueryRow(ctx,
			`INSERT INTO enrichments (company_id, job_id, hubspot_object_id, vertical, lookup_method,
				hubspot_created_at, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7) RETURNING id`,
			e.CompanyID, e.JobID, e.HubSpotObjectID, e.Vertical, string(e.LookupMethod),
			e.HubSpotCreatedAt, now,
		).Scan(&e.ID)
	})
	if err != nil {
		return eris.Wrap(err, "postgres: save enrichment")
	}
	e.IsActive = true
	e.CreatedAt = now
	return nil
}

func (s *PostgresStore) FindFreshEnrichment(ctx context.Context, companyID int64, since time.Time) (*model.Enrichment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+enrichmentColumns+` FROM enrichments
		WHERE company_id = $1 AND is_active AND created_at >= $2
		ORDER BY created_at DESC LIMIT 1`,
		companyID, since)
	e, err := scanEnrichment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find fresh enrichment")
	}
	return e, nil
}
