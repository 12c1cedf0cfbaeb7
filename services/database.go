package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kenmoh/servipalbackend/models"
)

type DatabaseService struct {
	db *sql.DB
}

func NewDatabaseService(databaseURL string) (*DatabaseService, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseService{db: db}, nil
}

func (d *DatabaseService) InsertMediaReference(ctx context.Context, ref *models.MediaReference) error {
	now := time.Now().UTC()
	ref.CreatedAt = now
	ref.UpdatedAt = now

	query := `INSERT INTO media_references (id, item_id, url, kind, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := d.db.ExecContext(ctx, query, ref.ID, ref.ItemID, ref.URL, ref.Kind, ref.CreatedAt, ref.UpdatedAt)
	return err
}

func (d *DatabaseService) ListMediaByItem(ctx context.Context, itemID string) ([]models.MediaReference, error) {
	query := `SELECT id, item_id, url, kind, created_at, updated_at
		FROM media_references WHERE item_id = $1 ORDER BY created_at, id`
	rows, err := d.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMediaReferences(rows)
}

// PendingPlaceholders returns every row still carrying a conversion
// placeholder instead of a final URL.
func (d *DatabaseService) PendingPlaceholders(ctx context.Context) ([]models.MediaReference, error) {
	query := `SELECT id, item_id, url, kind, created_at, updated_at
		FROM media_references WHERE url LIKE $1 ORDER BY created_at, id`
	rows, err := d.db.QueryContext(ctx, query, models.PlaceholderPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMediaReferences(rows)
}

// ResolvePlaceholder swaps a placeholder URL for the final one. The update is
// conditional on the row still holding the expected placeholder, so concurrent
// reconcilers never double-resolve: exactly one caller sees resolved=true.
func (d *DatabaseService) ResolvePlaceholder(ctx context.Context, id, placeholder, finalURL string) (bool, error) {
	query := `UPDATE media_references SET url = $1, updated_at = $2
		WHERE id = $3 AND url = $4`
	res, err := d.db.ExecContext(ctx, query, finalURL, time.Now().UTC(), id, placeholder)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (d *DatabaseService) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseService) Close() error {
	return d.db.Close()
}

func scanMediaReferences(rows *sql.Rows) ([]models.MediaReference, error) {
	var refs []models.MediaReference
	for rows.Next() {
		var ref models.MediaReference
		if err := rows.Scan(&ref.ID, &ref.ItemID, &ref.URL, &ref.Kind, &ref.CreatedAt, &ref.UpdatedAt); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
