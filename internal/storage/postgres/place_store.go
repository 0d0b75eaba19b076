package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mapfolio/place-crawler/internal/place"
)

// existingIDsChunkSize bounds membership queries to respect query limits.
const existingIDsChunkSize = 1000

// PlaceStore implements place.PlaceStore over the place table.
type PlaceStore struct {
	pool dbPool
}

// NewPlaceStore creates a Postgres-backed place store.
func NewPlaceStore(ctx context.Context, cfg PoolConfig) (*PlaceStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PlaceStore{pool: pool}, nil
}

// NewPlaceStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewPlaceStoreWithPool(pool dbPool) (*PlaceStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PlaceStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *PlaceStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert writes the place row, overwriting every attribute column when
// the id already exists.
func (s *PlaceStore) Upsert(ctx context.Context, p place.Place) error {
	if p.ID == "" {
		return fmt.Errorf("place id is required")
	}
	menusJSON, err := json.Marshal(p.Menus)
	if err != nil {
		return fmt.Errorf("marshal menus: %w", err)
	}
	query := `
INSERT INTO place (
	id, name, road, category, category_code, category_codes,
	road_address, address, phone, payment_info, conveniences,
	review_count, review_score, x, y, homepages, keywords, images,
	static_map_url, themes, menus, group1, group2, group3, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
	$16, $17, $18, $19, $20, $21, $22, $23, $24, now()
)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	road = EXCLUDED.road,
	category = EXCLUDED.category,
	category_code = EXCLUDED.category_code,
	category_codes = EXCLUDED.category_codes,
	road_address = EXCLUDED.road_address,
	address = EXCLUDED.address,
	phone = EXCLUDED.phone,
	payment_info = EXCLUDED.payment_info,
	conveniences = EXCLUDED.conveniences,
	review_count = EXCLUDED.review_count,
	review_score = EXCLUDED.review_score,
	x = EXCLUDED.x,
	y = EXCLUDED.y,
	homepages = EXCLUDED.homepages,
	keywords = EXCLUDED.keywords,
	images = EXCLUDED.images,
	static_map_url = EXCLUDED.static_map_url,
	themes = EXCLUDED.themes,
	menus = EXCLUDED.menus,
	group1 = EXCLUDED.group1,
	group2 = EXCLUDED.group2,
	group3 = EXCLUDED.group3,
	updated_at = now()`

	args := []any{
		p.ID,
		p.Name,
		p.Road,
		p.Category,
		p.CategoryCode,
		p.CategoryCodes,
		p.RoadAddress,
		p.Address,
		p.Phone,
		p.PaymentInfo,
		p.Conveniences,
		p.ReviewCount,
		p.ReviewScore,
		p.X,
		p.Y,
		p.Homepages,
		p.Keywords,
		p.Images,
		p.StaticMapURL,
		p.Themes,
		menusJSON,
		p.Group1,
		p.Group2,
		p.Group3,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert place %s: %w", p.ID, err)
	}
	return nil
}

// ExistingIDs returns the subset of ids already stored, querying in
// bounded chunks.
func (s *PlaceStore) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	var existing []string
	for _, chunk := range chunkIDs(ids, existingIDsChunkSize) {
		rows, err := s.pool.Query(ctx, `SELECT id FROM place WHERE id = ANY($1)`, chunk)
		if err != nil {
			return nil, fmt.Errorf("query existing ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan existing id: %w", err)
			}
			existing = append(existing, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate existing ids: %w", err)
		}
	}
	return existing, nil
}

func chunkIDs(ids []string, size int) [][]string {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
