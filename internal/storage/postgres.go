package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ecowatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/ecowatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			id BIGSERIAL PRIMARY KEY,
			value DOUBLE PRECISION NOT NULL,
			type TEXT NOT NULL,
			notes TEXT NOT NULL,
			collection_date TEXT NOT NULL,
			concern TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_concern ON observations(concern)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_source ON observations(source)`,
		`CREATE TABLE IF NOT EXISTS scores (
			identity TEXT PRIMARY KEY,
			points BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			identity TEXT NOT NULL,
			concern TEXT NOT NULL,
			PRIMARY KEY (identity, concern)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_concern ON subscriptions(concern)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) InsertObservation(ctx context.Context, obs model.Observation) (int64, error) {
	if s.db == nil {
		return 0, errors.New("store not initialized")
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO observations (value, type, notes, collection_date, concern, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		obs.Value,
		obs.Type,
		obs.Notes,
		obs.CollectionDate,
		string(obs.Concern),
		obs.Source,
		nowUTC(),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *postgresStore) ListObservations(ctx context.Context, limit int) ([]model.Observation, error) {
	return s.listObservations(ctx,
		`SELECT id, value, type, notes, collection_date, concern, source, created_at
		FROM observations ORDER BY id DESC LIMIT $1`, limit)
}

// AddPoints runs as a single upsert so concurrent increments for one identity
// serialize at the row and the net effect equals the sum of deltas.
func (s *postgresStore) AddPoints(ctx context.Context, identity string, delta int) error {
	if s.db == nil {
		return errors.New("store not initialized")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scores (identity, points) VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET points = scores.points + EXCLUDED.points`,
		identity, delta)
	return err
}

func (s *postgresStore) GetScore(ctx context.Context, identity string) (int, error) {
	var points int
	err := s.db.QueryRowContext(ctx,
		`SELECT points FROM scores WHERE identity = $1`, identity).Scan(&points)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return points, nil
}

func (s *postgresStore) SetSubscriptions(ctx context.Context, identity string, concerns []model.ConcernCategory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE identity = $1`, identity); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, concern := range concerns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscriptions (identity, concern) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			identity, string(concern)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStore) Subscribers(ctx context.Context, concern model.ConcernCategory) ([]string, error) {
	return s.subscribers(ctx, `SELECT identity FROM subscriptions WHERE concern = $1 ORDER BY identity`, concern)
}
