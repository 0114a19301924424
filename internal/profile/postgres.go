package profile

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory reads regions and category assignments from Postgres.
type PostgresDirectory struct {
	db *pgxpool.Pool
}

// NewPostgresDirectory builds a Postgres-backed directory.
func NewPostgresDirectory(db *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Region returns the region with id.
func (d *PostgresDirectory) Region(ctx context.Context, id string) (Region, error) {
	var r Region
	err := d.db.QueryRow(ctx, `SELECT id, name, COALESCE(code, '') FROM regions WHERE id = $1`, id).
		Scan(&r.ID, &r.Name, &r.Code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Region{}, ErrRegionNotFound
		}
		return Region{}, err
	}
	return r, nil
}

// ConfirmedCategories lists the categories confirmed for userID.
func (d *PostgresDirectory) ConfirmedCategories(ctx context.Context, userID string) ([]Category, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return []Category{}, nil
	}
	rows, err := d.db.Query(ctx, `SELECT c.id, c.code, c.title
        FROM user_benefit_categories uc
        JOIN benefit_categories c ON c.id = uc.category_id
        WHERE uc.user_id = $1 AND uc.confirmed
        ORDER BY c.code`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Code, &c.Title); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
