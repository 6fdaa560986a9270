package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/models"
	"github.com/consultease/consultease/pkg/storage"
)

// facultyStore implements storage.FacultyStore over a querier, so the same
// code serves the autocommit pool and open sessions.
type facultyStore struct {
	q querier
}

var _ storage.FacultyStore = (*facultyStore)(nil)

// facultyColumns is the SELECT column list shared by Get and List queries.
const facultyColumns = `id, name, department, email, beacon_mac, always_available,
	present, last_seen, ntp_sync_status, in_grace_period, version, created_at, updated_at`

// Create inserts a new faculty member. The always-available override forces
// the initial presence state to true.
func (f *facultyStore) Create(ctx context.Context, fac models.Faculty) (models.Faculty, error) {
	ntp := fac.NTPSyncStatus
	if ntp == "" {
		ntp = models.NTPPending
	}
	present := fac.Present || fac.AlwaysAvailable

	res, err := f.q.ExecContext(ctx, `
		INSERT INTO faculty (name, department, email, beacon_mac, always_available, present, ntp_sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fac.Name, fac.Department, fac.Email, fac.BeaconMAC, fac.AlwaysAvailable, present, string(ntp),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Faculty{}, cerrors.NewConflictError(
				"beacon MAC "+fac.BeaconMAC+" already registered", err)
		}
		return models.Faculty{}, classify("inserting faculty", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Faculty{}, fmt.Errorf("getting faculty id: %w", err)
	}
	return f.Get(ctx, id)
}

// Get retrieves a faculty member by id.
func (f *facultyStore) Get(ctx context.Context, id int64) (models.Faculty, error) {
	row := f.q.QueryRowContext(ctx,
		`SELECT `+facultyColumns+` FROM faculty WHERE id = ?`, id)
	fac, err := scanFaculty(row)
	if err != nil {
		if cerrors.IsNotFound(err) {
			return models.Faculty{}, cerrors.NewNotFoundError(
				fmt.Sprintf("faculty %d not found", id), nil)
		}
		return models.Faculty{}, err
	}
	return fac, nil
}

// GetByBeaconMAC retrieves a faculty member by canonical beacon MAC.
func (f *facultyStore) GetByBeaconMAC(ctx context.Context, mac string) (models.Faculty, error) {
	row := f.q.QueryRowContext(ctx,
		`SELECT `+facultyColumns+` FROM faculty WHERE beacon_mac = ?`, mac)
	fac, err := scanFaculty(row)
	if err != nil {
		if cerrors.IsNotFound(err) {
			return models.Faculty{}, cerrors.NewNotFoundError(
				"no faculty registered for beacon "+mac, nil)
		}
		return models.Faculty{}, err
	}
	return fac, nil
}

// List returns all faculty matching the filter, ordered by name.
func (f *facultyStore) List(ctx context.Context, filter storage.FacultyFilter) ([]models.Faculty, error) {
	query := `SELECT ` + facultyColumns + ` FROM faculty`

	var clauses []string
	var args []any
	if filter.Department != "" {
		clauses = append(clauses, `department = ?`)
		args = append(args, filter.Department)
	}
	if filter.Present != nil {
		clauses = append(clauses, `present = ?`)
		args = append(args, *filter.Present)
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY name`

	rows, err := f.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("querying faculty", err)
	}
	defer func() { _ = rows.Close() }()

	var result []models.Faculty
	for rows.Next() {
		fac, scanErr := scanFaculty(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		result = append(result, fac)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating faculty rows: %w", err)
	}
	return result, nil
}

// Update rewrites the identity fields of an existing faculty member. Turning
// the always-available override on also forces presence to true.
func (f *facultyStore) Update(ctx context.Context, fac models.Faculty) (models.Faculty, error) {
	res, err := f.q.ExecContext(ctx, `
		UPDATE faculty SET
			name = ?, department = ?, email = ?, beacon_mac = ?,
			always_available = ?,
			present = CASE WHEN ? THEN 1 ELSE present END,
			version = version + 1,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?`,
		fac.Name, fac.Department, fac.Email, fac.BeaconMAC,
		fac.AlwaysAvailable, fac.AlwaysAvailable, fac.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Faculty{}, cerrors.NewConflictError(
				"beacon MAC "+fac.BeaconMAC+" already registered", err)
		}
		return models.Faculty{}, classify("updating faculty", err)
	}
	if err := requireAffected(res, fmt.Sprintf("faculty %d not found", fac.ID)); err != nil {
		return models.Faculty{}, err
	}
	return f.Get(ctx, fac.ID)
}

// ApplyPresence commits one presence update guarded by the expected version.
// The stored version increments by exactly one on success; a moved version
// reports a conflict so the caller can re-read and retry.
func (f *facultyStore) ApplyPresence(ctx context.Context, u storage.PresenceUpdate) (models.Faculty, error) {
	sets := []string{
		`present = ?`,
		`last_seen = ?`,
		`version = version + 1`,
		`updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
	}
	args := []any{u.Present, formatTime(u.LastSeen)}

	if u.InGracePeriod != nil {
		sets = append(sets, `in_grace_period = ?`)
		args = append(args, *u.InGracePeriod)
	}
	if u.NTPSyncStatus != nil {
		sets = append(sets, `ntp_sync_status = ?`)
		args = append(args, string(*u.NTPSyncStatus))
	}
	if u.BeaconMAC != "" {
		sets = append(sets, `beacon_mac = ?`)
		args = append(args, u.BeaconMAC)
	}

	query := `UPDATE faculty SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND version = ?`
	args = append(args, u.FacultyID, u.ExpectedVersion)

	res, err := f.q.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Faculty{}, cerrors.NewConflictError(
				"beacon MAC "+u.BeaconMAC+" already registered to another faculty member", err)
		}
		return models.Faculty{}, classify("applying presence update", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return models.Faculty{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		// Row missing or version moved underneath us; disambiguate.
		if _, getErr := f.Get(ctx, u.FacultyID); getErr != nil {
			return models.Faculty{}, getErr
		}
		return models.Faculty{}, cerrors.NewConflictError(
			fmt.Sprintf("faculty %d version %d is stale", u.FacultyID, u.ExpectedVersion), nil)
	}

	return f.Get(ctx, u.FacultyID)
}

// SetAlwaysAvailable flips the always-available override. Turning it on
// forces presence to true.
func (f *facultyStore) SetAlwaysAvailable(ctx context.Context, id int64, on bool) (models.Faculty, error) {
	res, err := f.q.ExecContext(ctx, `
		UPDATE faculty SET
			always_available = ?,
			present = CASE WHEN ? THEN 1 ELSE present END,
			version = version + 1,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?`,
		on, on, id,
	)
	if err != nil {
		return models.Faculty{}, classify("updating always-available override", err)
	}
	if err := requireAffected(res, fmt.Sprintf("faculty %d not found", id)); err != nil {
		return models.Faculty{}, err
	}
	return f.Get(ctx, id)
}

// Delete removes a faculty member.
func (f *facultyStore) Delete(ctx context.Context, id int64) error {
	res, err := f.q.ExecContext(ctx, `DELETE FROM faculty WHERE id = ?`, id)
	if err != nil {
		return classify("deleting faculty", err)
	}
	return requireAffected(res, fmt.Sprintf("faculty %d not found", id))
}

// scanFaculty scans one faculty row into a snapshot.
func scanFaculty(sc scanner) (models.Faculty, error) {
	var (
		f            models.Faculty
		lastSeen     sql.NullString
		ntp          string
		createdStr   string
		updatedStr   string
	)
	err := sc.Scan(
		&f.ID, &f.Name, &f.Department, &f.Email, &f.BeaconMAC,
		&f.AlwaysAvailable, &f.Present, &lastSeen, &ntp,
		&f.InGracePeriod, &f.Version, &createdStr, &updatedStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Faculty{}, cerrors.NewNotFoundError("faculty not found", err)
		}
		return models.Faculty{}, fmt.Errorf("scanning faculty row: %w", err)
	}

	f.NTPSyncStatus = models.NTPSyncStatus(ntp)
	if f.LastSeen, err = parseNullTime(lastSeen); err != nil {
		return models.Faculty{}, err
	}
	if f.CreatedAt, err = parseTime(createdStr); err != nil {
		return models.Faculty{}, err
	}
	if f.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return models.Faculty{}, err
	}
	return f, nil
}

// requireAffected converts a zero-row update into a not-found error.
func requireAffected(res sql.Result, notFoundMsg string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return cerrors.NewNotFoundError(notFoundMsg, nil)
	}
	return nil
}
