package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/models"
	"github.com/consultease/consultease/pkg/storage"
)

type adminStore struct {
	q querier
}

var _ storage.AdminStore = (*adminStore)(nil)

const adminColumns = `id, username, password_hash, created_at`

// Create inserts a new administrator with a pre-hashed credential.
func (a *adminStore) Create(ctx context.Context, username, passwordHash string) (models.Admin, error) {
	res, err := a.q.ExecContext(ctx,
		`INSERT INTO admin (username, password_hash) VALUES (?, ?)`,
		username, passwordHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Admin{}, cerrors.NewConflictError(
				"administrator "+username+" already exists", err)
		}
		return models.Admin{}, classify("inserting administrator", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Admin{}, fmt.Errorf("getting administrator id: %w", err)
	}

	row := a.q.QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM admin WHERE id = ?`, id)
	return scanAdmin(row)
}

// GetByUsername retrieves an administrator by login name.
func (a *adminStore) GetByUsername(ctx context.Context, username string) (models.Admin, error) {
	row := a.q.QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM admin WHERE username = ?`, username)
	ad, err := scanAdmin(row)
	if err != nil {
		if cerrors.IsNotFound(err) {
			return models.Admin{}, cerrors.NewNotFoundError(
				"administrator "+username+" not found", nil)
		}
		return models.Admin{}, err
	}
	return ad, nil
}

// List returns all administrators ordered by username.
func (a *adminStore) List(ctx context.Context) ([]models.Admin, error) {
	rows, err := a.q.QueryContext(ctx,
		`SELECT `+adminColumns+` FROM admin ORDER BY username`)
	if err != nil {
		return nil, classify("querying administrators", err)
	}
	defer func() { _ = rows.Close() }()

	var result []models.Admin
	for rows.Next() {
		ad, scanErr := scanAdmin(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		result = append(result, ad)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating administrator rows: %w", err)
	}
	return result, nil
}

func scanAdmin(sc scanner) (models.Admin, error) {
	var (
		ad         models.Admin
		createdStr string
	)
	err := sc.Scan(&ad.ID, &ad.Username, &ad.PasswordHash, &createdStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Admin{}, cerrors.NewNotFoundError("administrator not found", err)
		}
		return models.Admin{}, fmt.Errorf("scanning administrator row: %w", err)
	}
	if ad.CreatedAt, err = parseTime(createdStr); err != nil {
		return models.Admin{}, err
	}
	return ad, nil
}
