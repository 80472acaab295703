package company

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Store is the persistence the resolver needs.
type Store interface {
	GetCompanyByExternalID(ctx context.Context, externalID string) (*Record, error)
	FindCompaniesByDomain(ctx context.Context, root string) ([]Record, error)
	FindCompanyByName(ctx context.Context, name string) (*Record, error)

	// UpsertCompanyByExternalID inserts rec or merges it into the row with
	// the same external ID, in one statement. rec is refreshed from the
	// stored row.
	UpsertCompanyByExternalID(ctx context.Context, rec *Record) error
	CreateCompany(ctx context.Context, rec *Record) error
	UpdateCompany(ctx context.Context, rec *Record) error
	LinkCompanyToJob(ctx context.Context, companyID int64, jobID string) error
}

// Match says which rule resolved a company.
type Match string

// Resolution rules, in priority order.
const (
	MatchNone       Match = ""
	MatchExternalID Match = "external_id"
	MatchDomain     Match = "domain"
	MatchName       Match = "name"
)

// Resolver finds and upserts companies in the global company table.
type Resolver struct {
	store Store
}

// NewResolver creates a company resolver.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// FindExisting looks up a stored company for rec. First match wins:
//  1. exact external ID
//  2. registrable root domain against stored domain or website
//  3. exact name, when longer than MinNameLength
//
// A nil record means rec is new.
func (r *Resolver) FindExisting(ctx context.Context, rec *Record) (*Record, Match, error) {
	if rec.ExternalID != "" {
		existing, err := r.store.GetCompanyByExternalID(ctx, rec.ExternalID)
		if err != nil {
			return nil, MatchNone, eris.Wrap(err, "company: resolve by external id")
		}
		if existing != nil {
			return existing, MatchExternalID, nil
		}
	}

	if root := rec.LookupDomain(); root != "" {
		candidates, err := r.store.FindCompaniesByDomain(ctx, root)
		if err != nil {
			return nil, MatchNone, eris.Wrap(err, "company: resolve by domain")
		}
		for i := range candidates {
			c := &candidates[i]
			if c.RootDomain == root || DomainMatches(c.Domain, root) || DomainMatches(c.Website, root) {
				return c, MatchDomain, nil
			}
		}
	}

	if name := NormalizeName(rec.Name); MatchableName(name) {
		existing, err := r.store.FindCompanyByName(ctx, name)
		if err != nil {
			return nil, MatchNone, eris.Wrap(err, "company: resolve by name")
		}
		if existing != nil {
			return existing, MatchName, nil
		}
	}

	return nil, MatchNone, nil
}

// Upsert stores rec globally and links it to jobID. Records carrying an
// external ID are merged atomically on that ID, so concurrent jobs racing on
// the same company both succeed. Others go through FindExisting and are
// merged into the match, or created. rec is updated to the stored state.
// The returned bool is true when a new row was created.
func (r *Resolver) Upsert(ctx context.Context, jobID string, rec *Record) (bool, error) {
	created := false

	switch {
	case rec.ExternalID != "":
		prior, err := r.store.GetCompanyByExternalID(ctx, rec.ExternalID)
		if err != nil {
			return false, eris.Wrap(err, "company: upsert lookup")
		}
		if err := r.store.UpsertCompanyByExternalID(ctx, rec); err != nil {
			return false, eris.Wrap(err, "company: upsert by external id")
		}
		created = prior == nil

	default:
		existing, how, err := r.FindExisting(ctx, rec)
		if err != nil {
			return false, err
		}
		if existing != nil {
			Merge(existing, rec)
			if err := r.store.UpdateCompany(ctx, existing); err != nil {
				return false, eris.Wrap(err, "company: merge update")
			}
			zap.L().Debug("company: merged", zap.Int64("company_id", existing.ID), zap.String("match", string(how)))
			*rec = *existing
		} else {
			if err := r.store.CreateCompany(ctx, rec); err != nil {
				return false, eris.Wrap(err, "company: create")
			}
			created = true
		}
	}

	if err := r.store.LinkCompanyToJob(ctx, rec.ID, jobID); err != nil {
		return created, eris.Wrap(err, "company: link job")
	}
	return created, nil
}
