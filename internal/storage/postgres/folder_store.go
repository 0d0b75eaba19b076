package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mapfolio/place-crawler/internal/place"
)

// FolderStore implements place.FolderStore over the folder and
// folder_place tables.
type FolderStore struct {
	pool dbPool
}

// NewFolderStore creates a Postgres-backed folder store.
func NewFolderStore(ctx context.Context, cfg PoolConfig) (*FolderStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &FolderStore{pool: pool}, nil
}

// NewFolderStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewFolderStoreWithPool(pool dbPool) (*FolderStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &FolderStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *FolderStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Get fetches a folder by id.
func (s *FolderStore) Get(ctx context.Context, folderID string) (place.Folder, error) {
	var f place.Folder
	query := `SELECT id, title, owner_id FROM folder WHERE id = $1`
	err := s.pool.QueryRow(ctx, query, folderID).Scan(&f.ID, &f.Title, &f.OwnerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return place.Folder{}, place.ErrNotFound
		}
		return place.Folder{}, fmt.Errorf("get folder %s: %w", folderID, err)
	}
	return f, nil
}

// LinkPlaces attaches place ids to the folder; existing links are left
// untouched.
func (s *FolderStore) LinkPlaces(ctx context.Context, folderID string, placeIDs []string) error {
	if len(placeIDs) == 0 {
		return nil
	}
	query := `
INSERT INTO folder_place (folder_id, place_id, created_at)
SELECT $1, unnest($2::text[]), now()
ON CONFLICT (folder_id, place_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, folderID, placeIDs); err != nil {
		return fmt.Errorf("link places to folder %s: %w", folderID, err)
	}
	return nil
}
