package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"ecowatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:ecowatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			value REAL NOT NULL,
			type TEXT NOT NULL,
			notes TEXT NOT NULL,
			collection_date TEXT NOT NULL,
			concern TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_concern ON observations(concern)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_source ON observations(source)`,
		`CREATE TABLE IF NOT EXISTS scores (
			identity TEXT PRIMARY KEY,
			points INTEGER NOT NULL DEFAULT 0
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

func (s *sqliteStore) InsertObservation(ctx context.Context, obs model.Observation) (int64, error) {
	if s.db == nil {
		return 0, errors.New("store not initialized")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (value, type, notes, collection_date, concern, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		obs.Value,
		obs.Type,
		obs.Notes,
		obs.CollectionDate,
		string(obs.Concern),
		obs.Source,
		nowUTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListObservations(ctx context.Context, limit int) ([]model.Observation, error) {
	return s.listObservations(ctx,
		`SELECT id, value, type, notes, collection_date, concern, source, created_at
		FROM observations ORDER BY id DESC LIMIT ?`, limit)
}

func (s *sqliteStore) AddPoints(ctx context.Context, identity string, delta int) error {
	if s.db == nil {
		return errors.New("store not initialized")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scores (identity, points) VALUES (?, ?)
		ON CONFLICT(identity) DO UPDATE SET points = points + excluded.points`,
		identity, delta)
	return err
}

func (s *sqliteStore) GetScore(ctx context.Context, identity string) (int, error) {
	var points int
	err := s.db.QueryRowContext(ctx,
		`SELECT points FROM scores WHERE identity = ?`, identity).Scan(&points)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return points, nil
}

func (s *sqliteStore) SetSubscriptions(ctx context.Context, identity string, concerns []model.ConcernCategory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE identity = ?`, identity); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, concern := range concerns {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO subscriptions (identity, concern) VALUES (?, ?)`,
			identity, string(concern)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Subscribers(ctx context.Context, concern model.ConcernCategory) ([]string, error) {
	return s.subscribers(ctx, `SELECT identity FROM subscriptions WHERE concern = ? ORDER BY identity`, concern)
}
