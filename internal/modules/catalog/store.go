// README: Catalog store backed by PostgreSQL.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fixit/internal/infra"
	"fixit/internal/types"
)

type Store struct {
	db infra.DBTX
}

func NewStore(db infra.DBTX) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id types.ID) (Entry, error) {
	var e Entry
	var difficulty string
	err := s.db.QueryRow(ctx, `
        SELECT id, name, difficulty, warranty_days
        FROM service_catalog
        WHERE id = $1`, string(id),
	).Scan(&e.ID, &e.Name, &difficulty, &e.WarrantyDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get catalog service %s: %w", id, err)
	}
	e.Difficulty = Difficulty(difficulty)
	return e, nil
}

func (s *Store) Upsert(ctx context.Context, e Entry) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO service_catalog (id, name, difficulty, warranty_days)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE
        SET name = EXCLUDED.name, difficulty = EXCLUDED.difficulty, warranty_days = EXCLUDED.warranty_days`,
		string(e.ID), e.Name, string(e.Difficulty), e.WarrantyDays,
	)
	return err
}
