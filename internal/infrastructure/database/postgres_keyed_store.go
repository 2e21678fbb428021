package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wallet-watcher-engine/internal/domain/repository"
	"wallet-watcher-engine/internal/infrastructure/clock"
	"wallet-watcher-engine/internal/infrastructure/config"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const keyedRecordsSchema = `
	CREATE TABLE IF NOT EXISTS keyed_records (
		table_name TEXT NOT NULL,
		pk         TEXT NOT NULL,
		sk         TEXT NOT NULL,
		data       JSONB NOT NULL,
		version    BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (table_name, pk, sk)
	);
	CREATE INDEX IF NOT EXISTS keyed_records_sk ON keyed_records (table_name, sk);
`

// OpenPostgres opens and verifies a connection pool and applies the schema
func OpenPostgres(ctx context.Context, cfg *config.PostgresConfig, logger *logger.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, keyedRecordsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

// PostgresKeyedStore stores items as rows of keyed_records for one logical table
type PostgresKeyedStore struct {
	db     *sql.DB
	table  string
	clock  clock.Clock
	logger *logger.Logger
}

// NewPostgresKeyedStore creates a KeyedStore over Postgres
func NewPostgresKeyedStore(db *sql.DB, table string, clk clock.Clock, logger *logger.Logger) *PostgresKeyedStore {
	return &PostgresKeyedStore{
		db:     db,
		table:  table,
		clock:  clk,
		logger: logger.WithComponent("postgres-keyed-store").WithFields(map[string]interface{}{"table": table}),
	}
}

// Get implements KeyedStore
func (s *PostgresKeyedStore) Get(ctx context.Context, key repository.Key) (*repository.Item, error) {
	query := `
		SELECT pk, sk, data, version, updated_at
		FROM keyed_records
		WHERE table_name = $1 AND pk = $2 AND sk = $3
	`

	item, err := scanItem(s.db.QueryRowContext(ctx, query, s.table, key.PK, key.SK))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// Put implements KeyedStore
func (s *PostgresKeyedStore) Put(ctx context.Context, item *repository.Item) error {
	query := `
		INSERT INTO keyed_records (table_name, pk, sk, data, version, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (table_name, pk, sk)
		DO UPDATE SET data = EXCLUDED.data, version = keyed_records.version + 1, updated_at = EXCLUDED.updated_at
		RETURNING version, updated_at
	`

	now := s.clock.Now()
	err := s.db.QueryRowContext(ctx, query, s.table, item.PK, item.SK, []byte(item.Data), now).
		Scan(&item.Version, &item.UpdatedAt)
	if err != nil {
		s.logger.Error("Failed to put item", zap.String("pk", item.PK), zap.String("sk", item.SK), zap.Error(err))
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// PutIfAbsent implements KeyedStore
func (s *PostgresKeyedStore) PutIfAbsent(ctx context.Context, item *repository.Item) error {
	query := `
		INSERT INTO keyed_records (table_name, pk, sk, data, version, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (table_name, pk, sk) DO NOTHING
		RETURNING version, updated_at
	`

	err := s.db.QueryRowContext(ctx, query, s.table, item.PK, item.SK, []byte(item.Data), s.clock.Now()).
		Scan(&item.Version, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrConditionFailed
		}
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// CompareAndSwap implements KeyedStore
func (s *PostgresKeyedStore) CompareAndSwap(ctx context.Context, item *repository.Item, expectedVersion int64) error {
	query := `
		UPDATE keyed_records
		SET data = $4, version = version + 1, updated_at = $5
		WHERE table_name = $1 AND pk = $2 AND sk = $3 AND version = $6
		RETURNING version, updated_at
	`

	err := s.db.QueryRowContext(ctx, query, s.table, item.PK, item.SK, []byte(item.Data), s.clock.Now(), expectedVersion).
		Scan(&item.Version, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrConditionFailed
		}
		return fmt.Errorf("failed to swap item: %w", err)
	}
	return nil
}

// Query implements KeyedStore
func (s *PostgresKeyedStore) Query(ctx context.Context, pk, skPrefix string, opts repository.QueryOptions) ([]*repository.Item, error) {
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	query := `
		SELECT pk, sk, data, version, updated_at
		FROM keyed_records
		WHERE table_name = $1 AND pk = $2 AND starts_with(sk, $3)
		ORDER BY sk ` + order

	args := []interface{}{s.table, pk, skPrefix}
	if opts.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// Scan implements KeyedStore
func (s *PostgresKeyedStore) Scan(ctx context.Context, skPrefix string) ([]*repository.Item, error) {
	query := `
		SELECT pk, sk, data, version, updated_at
		FROM keyed_records
		WHERE table_name = $1 AND starts_with(sk, $2)
		ORDER BY pk, sk
	`

	rows, err := s.db.QueryContext(ctx, query, s.table, skPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// Delete implements KeyedStore
func (s *PostgresKeyedStore) Delete(ctx context.Context, key repository.Key) error {
	query := `DELETE FROM keyed_records WHERE table_name = $1 AND pk = $2 AND sk = $3`

	if _, err := s.db.ExecContext(ctx, query, s.table, key.PK, key.SK); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// BatchDelete implements KeyedStore
func (s *PostgresKeyedStore) BatchDelete(ctx context.Context, keys []repository.Key) error {
	if len(keys) == 0 {
		return nil
	}

	pks := make([]string, len(keys))
	sks := make([]string, len(keys))
	for i, key := range keys {
		pks[i] = key.PK
		sks[i] = key.SK
	}

	query := `
		DELETE FROM keyed_records r
		USING unnest($2::text[], $3::text[]) AS k(pk, sk)
		WHERE r.table_name = $1 AND r.pk = k.pk AND r.sk = k.sk
	`
	result, err := s.db.ExecContext(ctx, query, s.table, pq.Array(pks), pq.Array(sks))
	if err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}

	if deleted, err := result.RowsAffected(); err == nil {
		s.logger.Debug("Deleted records", zap.Int64("count", deleted))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*repository.Item, error) {
	var item repository.Item
	var data []byte
	if err := row.Scan(&item.PK, &item.SK, &data, &item.Version, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.Data = data
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]*repository.Item, error) {
	var items []*repository.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
