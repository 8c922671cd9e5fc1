// Package pgstore implements the generic item store on PostgreSQL using a
// single partitioned-key table. Secondary indexes are plain btree indexes
// over the projection key columns, and sparse patches are applied natively
// with jsonb concatenation.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bunjson"
	"go.uber.org/zap"

	"github.com/bramble-social/bramble/internal/setup/config"
	"github.com/bramble-social/bramble/internal/store"
)

// sonicProvider is a JSON provider that uses Sonic for encoding and decoding.
type sonicProvider struct{}

func (sonicProvider) Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func (sonicProvider) Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

func (sonicProvider) NewEncoder(w io.Writer) bunjson.Encoder {
	return sonic.ConfigDefault.NewEncoder(w)
}

func (sonicProvider) NewDecoder(r io.Reader) bunjson.Decoder {
	return sonic.ConfigDefault.NewDecoder(r)
}

// Store is the PostgreSQL-backed item store.
type Store struct {
	db     *bun.DB
	logger *zap.Logger
}

// New establishes the database connection pool and returns the store.
// When createSchema is set, the items table and its secondary indexes are
// created if missing.
func New(ctx context.Context, cfg *config.PostgreSQL, logger *zap.Logger, createSchema bool) (*Store, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithAddr(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		pgdriver.WithUser(cfg.User),
		pgdriver.WithPassword(cfg.Password),
		pgdriver.WithDatabase(cfg.DBName),
		pgdriver.WithInsecure(true),
		pgdriver.WithApplicationName("bramble"),
	))

	// Set connection pool settings
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Minute)
	sqldb.SetConnMaxIdleTime(time.Duration(cfg.MaxIdleTime) * time.Minute)

	// Set Sonic as the JSON provider
	bunjson.SetProvider(sonicProvider{})

	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(newHook(logger))

	s := &Store{
		db:     db,
		logger: logger.Named("pgstore"),
	}

	if createSchema {
		if err := s.createSchema(ctx); err != nil {
			return nil, err
		}
	}

	logger.Info("Database connection established")

	return s, nil
}

// createSchema creates the items table and its secondary indexes.
func (s *Store) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS items (
			pk      text NOT NULL,
			sk      text NOT NULL,
			gsi1_pk text NOT NULL DEFAULT '',
			gsi1_sk text NOT NULL DEFAULT '',
			gsi2_pk text NOT NULL DEFAULT '',
			gsi2_sk text NOT NULL DEFAULT '',
			gsi3_pk text NOT NULL DEFAULT '',
			gsi3_sk text NOT NULL DEFAULT '',
			data    jsonb NOT NULL DEFAULT '{}',
			PRIMARY KEY (pk, sk)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_gsi1 ON items (gsi1_pk, gsi1_sk) WHERE gsi1_pk <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_items_gsi2 ON items (gsi2_pk, gsi2_sk) WHERE gsi2_pk <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_items_gsi3 ON items (gsi3_pk, gsi3_sk) WHERE gsi3_pk <> ''`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// Close gracefully shuts down the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database connection", zap.Error(err))
		return err
	}

	s.logger.Info("Database connection closed")

	return nil
}

// Get retrieves a single item by its primary key.
func (s *Store) Get(ctx context.Context, pk, sk string) (*store.Item, error) {
	return operation(ctx, func(ctx context.Context) (*store.Item, error) {
		item := new(store.Item)
		err := s.db.NewSelect().
			Model(item).
			ModelTableExpr("items").
			Where("pk = ?", pk).
			Where("sk = ?", sk).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrItemNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get item: %w", err)
		}
		return item, nil
	})
}

// Put upserts an item, replacing all attributes and projection keys.
func (s *Store) Put(ctx context.Context, item *store.Item) error {
	return noResult(ctx, func(ctx context.Context) error {
		_, err := s.db.NewInsert().
			Model(item).
			ModelTableExpr("items").
			On("CONFLICT (pk, sk) DO UPDATE").
			Set("gsi1_pk = EXCLUDED.gsi1_pk").
			Set("gsi1_sk = EXCLUDED.gsi1_sk").
			Set("gsi2_pk = EXCLUDED.gsi2_pk").
			Set("gsi2_sk = EXCLUDED.gsi2_sk").
			Set("gsi3_pk = EXCLUDED.gsi3_pk").
			Set("gsi3_sk = EXCLUDED.gsi3_sk").
			Set("data = EXCLUDED.data").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to put item: %w", err)
		}
		return nil
	})
}

// Update applies a sparse patch to an existing item. Patch fields are merged
// into the stored attributes with jsonb concatenation so untouched fields
// survive; provided index keys replace the corresponding projection.
func (s *Store) Update(ctx context.Context, pk, sk string, patch store.Patch) (*store.Item, error) {
	return operation(ctx, func(ctx context.Context) (*store.Item, error) {
		if patch.Fields == nil {
			patch.Fields = map[string]any{}
		}

		fields, err := sonic.Marshal(patch.Fields)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal patch: %w", err)
		}

		query := s.db.NewUpdate().
			Model((*store.Item)(nil)).
			ModelTableExpr("items").
			Set("data = data || ?", string(fields)).
			Where("pk = ?", pk).
			Where("sk = ?", sk).
			Returning("*")

		if patch.GSI1 != nil {
			query = query.Set("gsi1_pk = ?", patch.GSI1.PK).Set("gsi1_sk = ?", patch.GSI1.SK)
		}
		if patch.GSI2 != nil {
			query = query.Set("gsi2_pk = ?", patch.GSI2.PK).Set("gsi2_sk = ?", patch.GSI2.SK)
		}
		if patch.GSI3 != nil {
			query = query.Set("gsi3_pk = ?", patch.GSI3.PK).Set("gsi3_sk = ?", patch.GSI3.SK)
		}

		item := new(store.Item)
		err = query.Scan(ctx, item)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrItemNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update item: %w", err)
		}
		return item, nil
	})
}

// Delete removes an item. Deleting a missing item is not an error.
func (s *Store) Delete(ctx context.Context, pk, sk string) error {
	return noResult(ctx, func(ctx context.Context) error {
		_, err := s.db.NewDelete().
			Model((*store.Item)(nil)).
			ModelTableExpr("items").
			Where("pk = ?", pk).
			Where("sk = ?", sk).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}
		return nil
	})
}

// Query returns one ordered slice of a partition on the primary key or a
// secondary index.
func (s *Store) Query(ctx context.Context, input store.QueryInput) (store.QueryOutput, error) {
	return operation(ctx, func(ctx context.Context) (store.QueryOutput, error) {
		pkCol, skCol, err := indexColumns(input.Index)
		if err != nil {
			return store.QueryOutput{}, err
		}

		var items []*store.Item
		query := s.db.NewSelect().
			Model(&items).
			ModelTableExpr("items").
			Where("? = ?", bun.Ident(pkCol), input.Partition)

		if input.SortPrefix != "" {
			query = query.Where("? LIKE ?", bun.Ident(skCol), input.SortPrefix+"%")
		}

		if input.StartAfter != "" {
			if input.Descending {
				query = query.Where("? < ?", bun.Ident(skCol), input.StartAfter)
			} else {
				query = query.Where("? > ?", bun.Ident(skCol), input.StartAfter)
			}
		}

		if input.Descending {
			query = query.OrderExpr("? DESC", bun.Ident(skCol))
		} else {
			query = query.OrderExpr("? ASC", bun.Ident(skCol))
		}

		if input.Limit > 0 {
			query = query.Limit(input.Limit)
		}

		if err := query.Scan(ctx); err != nil {
			return store.QueryOutput{}, fmt.Errorf("failed to query items: %w", err)
		}

		output := store.QueryOutput{Items: items}
		if input.Limit > 0 && len(items) == input.Limit {
			output.LastSortKey = sortKeyOf(items[len(items)-1], input.Index)
		}
		return output, nil
	})
}

// Scan pages over the whole table in primary-key order.
func (s *Store) Scan(ctx context.Context, input store.ScanInput) (store.ScanOutput, error) {
	return operation(ctx, func(ctx context.Context) (store.ScanOutput, error) {
		var items []*store.Item
		query := s.db.NewSelect().
			Model(&items).
			ModelTableExpr("items").
			OrderExpr("pk ASC, sk ASC")

		if input.SortPrefix != "" {
			query = query.Where("sk LIKE ?", input.SortPrefix+"%")
		}

		if input.StartAfter != nil {
			query = query.Where("(pk, sk) > (?, ?)", input.StartAfter.PK, input.StartAfter.SK)
		}

		if input.Limit > 0 {
			query = query.Limit(input.Limit)
		}

		if err := query.Scan(ctx); err != nil {
			return store.ScanOutput{}, fmt.Errorf("failed to scan items: %w", err)
		}

		output := store.ScanOutput{Items: items}
		if input.Limit > 0 && len(items) == input.Limit {
			last := items[len(items)-1]
			output.LastKey = &store.Key{PK: last.PK, SK: last.SK}
		}
		return output, nil
	})
}

// indexColumns maps an index name to its key columns.
func indexColumns(index string) (pkCol, skCol string, err error) {
	switch index {
	case "":
		return "pk", "sk", nil
	case store.IndexGSI1:
		return "gsi1_pk", "gsi1_sk", nil
	case store.IndexGSI2:
		return "gsi2_pk", "gsi2_sk", nil
	case store.IndexGSI3:
		return "gsi3_pk", "gsi3_sk", nil
	default:
		return "", "", fmt.Errorf("unknown index %q", index)
	}
}

// sortKeyOf returns the item's sort key within the given index.
func sortKeyOf(item *store.Item, index string) string {
	switch index {
	case store.IndexGSI1:
		return item.GSI1SK
	case store.IndexGSI2:
		return item.GSI2SK
	case store.IndexGSI3:
		return item.GSI3SK
	default:
		return item.SK
	}
}
