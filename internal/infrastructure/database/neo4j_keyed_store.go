package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-watcher-engine/internal/domain/repository"
	"wallet-watcher-engine/internal/infrastructure/clock"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

const recordReturn = `RETURN r.pk AS pk, r.sk AS sk, r.data AS data, r.version AS version, r.updated_at AS updated_at`

// Neo4JKeyedStore stores items as (:Record) nodes of one logical table
type Neo4JKeyedStore struct {
	client *Neo4JClient
	table  string
	clock  clock.Clock
	logger *logger.Logger
}

// NewNeo4JKeyedStore creates a KeyedStore over Neo4J
func NewNeo4JKeyedStore(client *Neo4JClient, table string, clk clock.Clock, logger *logger.Logger) *Neo4JKeyedStore {
	return &Neo4JKeyedStore{
		client: client,
		table:  table,
		clock:  clk,
		logger: logger.WithComponent("neo4j-keyed-store").WithFields(map[string]interface{}{"table": table}),
	}
}

func (s *Neo4JKeyedStore) nodeKey(key repository.Key) string {
	return s.table + "\x1f" + key.PK + "\x1f" + key.SK
}

// Get implements KeyedStore
func (s *Neo4JKeyedStore) Get(ctx context.Context, key repository.Key) (*repository.Item, error) {
	query := `MATCH (r:Record {key: $key}) ` + recordReturn

	items, err := s.read(ctx, query, map[string]interface{}{"key": s.nodeKey(key)})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if len(items) == 0 {
		return nil, repository.ErrItemNotFound
	}
	return items[0], nil
}

// Put implements KeyedStore
func (s *Neo4JKeyedStore) Put(ctx context.Context, item *repository.Item) error {
	query := `
		MERGE (r:Record {key: $key})
		ON CREATE SET r.table = $table, r.pk = $pk, r.sk = $sk, r.version = 0
		SET r.data = $data, r.version = r.version + 1, r.updated_at = $now
	` + recordReturn

	written, err := s.write(ctx, query, s.params(item, nil))
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return s.applyWritten(item, written)
}

// PutIfAbsent implements KeyedStore
func (s *Neo4JKeyedStore) PutIfAbsent(ctx context.Context, item *repository.Item) error {
	query := `
		OPTIONAL MATCH (existing:Record {key: $key})
		WITH existing WHERE existing IS NULL
		CREATE (r:Record {key: $key, table: $table, pk: $pk, sk: $sk, data: $data, version: 1, updated_at: $now})
	` + recordReturn

	written, err := s.write(ctx, query, s.params(item, nil))
	if err != nil {
		var neoErr *neo4j.Neo4jError
		if errors.As(err, &neoErr) && neoErr.Code == constraintViolation {
			return repository.ErrConditionFailed
		}
		return fmt.Errorf("failed to put item: %w", err)
	}
	return s.applyWritten(item, written)
}

// CompareAndSwap implements KeyedStore
func (s *Neo4JKeyedStore) CompareAndSwap(ctx context.Context, item *repository.Item, expectedVersion int64) error {
	query := `
		MATCH (r:Record {key: $key})
		WHERE r.version = $expected
		SET r.data = $data, r.version = r.version + 1, r.updated_at = $now
	` + recordReturn

	written, err := s.write(ctx, query, s.params(item, map[string]interface{}{"expected": expectedVersion}))
	if err != nil {
		return fmt.Errorf("failed to swap item: %w", err)
	}
	return s.applyWritten(item, written)
}

// Query implements KeyedStore
func (s *Neo4JKeyedStore) Query(ctx context.Context, pk, skPrefix string, opts repository.QueryOptions) ([]*repository.Item, error) {
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	query := `
		MATCH (r:Record)
		WHERE r.table = $table AND r.pk = $pk AND r.sk STARTS WITH $prefix
	` + recordReturn + ` ORDER BY sk ` + order

	params := map[string]interface{}{"table": s.table, "pk": pk, "prefix": skPrefix}
	if opts.Limit > 0 {
		query += ` LIMIT $limit`
		params["limit"] = opts.Limit
	}

	items, err := s.read(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	return items, nil
}

// Scan implements KeyedStore
func (s *Neo4JKeyedStore) Scan(ctx context.Context, skPrefix string) ([]*repository.Item, error) {
	query := `
		MATCH (r:Record)
		WHERE r.table = $table AND r.sk STARTS WITH $prefix
	` + recordReturn + ` ORDER BY pk, sk`

	items, err := s.read(ctx, query, map[string]interface{}{"table": s.table, "prefix": skPrefix})
	if err != nil {
		return nil, fmt.Errorf("failed to scan items: %w", err)
	}
	return items, nil
}

// Delete implements KeyedStore
func (s *Neo4JKeyedStore) Delete(ctx context.Context, key repository.Key) error {
	return s.BatchDelete(ctx, []repository.Key{key})
}

// BatchDelete implements KeyedStore
func (s *Neo4JKeyedStore) BatchDelete(ctx context.Context, keys []repository.Key) error {
	if len(keys) == 0 {
		return nil
	}

	nodeKeys := make([]string, len(keys))
	for i, key := range keys {
		nodeKeys[i] = s.nodeKey(key)
	}

	session := s.client.NewSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `
		UNWIND $keys AS k
		MATCH (r:Record {key: k})
		DELETE r
	`
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{"keys": nodeKeys})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}

	s.logger.Debug("Deleted records", zap.Int("count", len(keys)))
	return nil
}

func (s *Neo4JKeyedStore) params(item *repository.Item, extra map[string]interface{}) map[string]interface{} {
	params := map[string]interface{}{
		"key":   s.nodeKey(item.Key),
		"table": s.table,
		"pk":    item.PK,
		"sk":    item.SK,
		"data":  string(item.Data),
		"now":   s.clock.Now(),
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

func (s *Neo4JKeyedStore) applyWritten(item *repository.Item, written []*repository.Item) error {
	if len(written) == 0 {
		return repository.ErrConditionFailed
	}
	item.Version = written[0].Version
	item.UpdatedAt = written[0].UpdatedAt
	return nil
}

func (s *Neo4JKeyedStore) read(ctx context.Context, query string, params map[string]interface{}) ([]*repository.Item, error) {
	session := s.client.NewSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return recordsToItems(result.([]*neo4j.Record))
}

func (s *Neo4JKeyedStore) write(ctx context.Context, query string, params map[string]interface{}) ([]*repository.Item, error) {
	session := s.client.NewSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return recordsToItems(result.([]*neo4j.Record))
}

func recordsToItems(records []*neo4j.Record) ([]*repository.Item, error) {
	items := make([]*repository.Item, 0, len(records))
	for _, record := range records {
		pk, _, err := neo4j.GetRecordValue[string](record, "pk")
		if err != nil {
			return nil, err
		}
		sk, _, err := neo4j.GetRecordValue[string](record, "sk")
		if err != nil {
			return nil, err
		}
		data, _, err := neo4j.GetRecordValue[string](record, "data")
		if err != nil {
			return nil, err
		}
		version, _, err := neo4j.GetRecordValue[int64](record, "version")
		if err != nil {
			return nil, err
		}
		updatedAt, _, err := neo4j.GetRecordValue[time.Time](record, "updated_at")
		if err != nil {
			return nil, err
		}

		items = append(items, &repository.Item{
			Key:       repository.Key{PK: pk, SK: sk},
			Data:      []byte(data),
			Version:   version,
			UpdatedAt: updatedAt,
		})
	}
	return items, nil
}
