package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"ecowatch/internal/config"
	"ecowatch/internal/model"
)

// Store is the durable record of observations, user scores, and concern
// subscriptions. Implementations provide their own concurrency control;
// AddPoints in particular must not lose concurrent increments for the same
// identity.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	InsertObservation(ctx context.Context, obs model.Observation) (int64, error)
	ListObservations(ctx context.Context, limit int) ([]model.Observation, error)
	AddPoints(ctx context.Context, identity string, delta int) error
	GetScore(ctx context.Context, identity string) (int, error)
	SetSubscriptions(ctx context.Context, identity string, concerns []model.ConcernCategory) error
	Subscribers(ctx context.Context, concern model.ConcernCategory) ([]string, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) subscribers(ctx context.Context, query string, concern model.ConcernCategory) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, query, string(concern))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, err
		}
		out = append(out, identity)
	}
	return out, rows.Err()
}

func (b *baseStore) listObservations(ctx context.Context, query string, limit int) ([]model.Observation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Observation, 0, limit)
	for rows.Next() {
		var obs model.Observation
		var concern string
		if err := rows.Scan(&obs.ID, &obs.Value, &obs.Type, &obs.Notes, &obs.CollectionDate, &concern, &obs.Source, &obs.CreatedAt); err != nil {
			return nil, err
		}
		obs.Concern = model.ConcernCategory(concern)
		out = append(out, obs)
	}
	return out, rows.Err()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
