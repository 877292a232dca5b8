package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/domain/model"
	apperrors "github.com/target/catalog-sync/internal/errors"
)

var _ core.StoreRepository = (*StoreRepo)(nil)

const storeColumns = "domain, access_token, installed, markup_percentage, created_at, updated_at"

// StoreRepo persists connected stores.
type StoreRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewStoreRepo creates a StoreRepo. A nil TimeProvider uses the system clock.
func NewStoreRepo(db *sql.DB, tp TimeProvider) *StoreRepo {
	if tp == nil {
		tp = RealTimeProvider{}
	}
	return &StoreRepo{DB: db, timeProvider: tp}
}

// Upsert records an install. A reinstall overwrites the token and marks the store installed again;
// the markup is only changed when the request carries one.
func (r *StoreRepo) Upsert(ctx context.Context, req *model.UpsertStoreRequest) (*model.Store, error) {
	if req == nil {
		return nil, apperrors.Validation("store request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	now := r.timeProvider.Now().UTC()
	var markup sql.NullFloat64
	if req.MarkupPercentage != nil {
		markup = sql.NullFloat64{Float64: *req.MarkupPercentage, Valid: true}
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO stores (domain, access_token, installed, markup_percentage, created_at, updated_at)
		VALUES ($1, $2, TRUE, COALESCE($3::double precision, 0), $4, $4)
		ON CONFLICT (domain) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    installed = TRUE,
		    markup_percentage = COALESCE($3::double precision, stores.markup_percentage),
		    updated_at = EXCLUDED.updated_at
		RETURNING `+storeColumns,
		model.NormalizeDomain(req.Domain), strings.TrimSpace(req.AccessToken), markup, now)

	store, err := scanStore(row)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("upsert store: %w", err))
	}
	return store, nil
}

// GetByDomain returns the store or a NotFound error.
func (r *StoreRepo) GetByDomain(ctx context.Context, domain string) (*model.Store, error) {
	d := model.NormalizeDomain(domain)
	row := r.DB.QueryRowContext(ctx, `SELECT `+storeColumns+` FROM stores WHERE domain = $1`, d)
	store, err := scanStore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("store %s not found", d)
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get store: %w", err))
	}
	return store, nil
}

// MarkUninstalled flips installed to false. It reports false when the store is unknown or
// already uninstalled.
func (r *StoreRepo) MarkUninstalled(ctx context.Context, domain string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE stores SET installed = FALSE, updated_at = $2
		WHERE domain = $1 AND installed
	`, model.NormalizeDomain(domain), r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark store uninstalled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark store uninstalled rows affected: %w", err)
	}
	return n > 0, nil
}

// ListInstalled returns installed stores ordered by domain.
func (r *StoreRepo) ListInstalled(ctx context.Context) ([]*model.Store, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE installed ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stores := make([]*model.Store, 0)
	for rows.Next() {
		s, scanErr := scanStore(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan store: %w", scanErr)
		}
		stores = append(stores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stores: %w", err)
	}
	return stores, nil
}

func scanStore(s rowScanner) (*model.Store, error) {
	var st model.Store
	if err := s.Scan(
		&st.Domain,
		&st.AccessToken,
		&st.Installed,
		&st.MarkupPercentage,
		&st.CreatedAt,
		&st.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &st, nil
}
