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

type studentStore struct {
	q querier
}

var _ storage.StudentStore = (*studentStore)(nil)

const studentColumns = `id, name, rfid_uid, department, created_at`

// Upsert inserts a student, or updates name and department when the badge
// UID is already registered.
func (s *studentStore) Upsert(ctx context.Context, st models.Student) (models.Student, error) {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO student (name, rfid_uid, department)
		VALUES (?, ?, ?)
		ON CONFLICT (rfid_uid) DO UPDATE SET
			name = excluded.name,
			department = excluded.department`,
		st.Name, st.RFIDUID, st.Department,
	)
	if err != nil {
		return models.Student{}, classify("upserting student", err)
	}
	// LastInsertId is unreliable on the conflict path; read back by UID.
	return s.GetByRFID(ctx, st.RFIDUID)
}

// Get retrieves a student by id.
func (s *studentStore) Get(ctx context.Context, id int64) (models.Student, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM student WHERE id = ?`, id)
	st, err := scanStudent(row)
	if err != nil {
		if cerrors.IsNotFound(err) {
			return models.Student{}, cerrors.NewNotFoundError(
				fmt.Sprintf("student %d not found", id), nil)
		}
		return models.Student{}, err
	}
	return st, nil
}

// GetByRFID retrieves a student by normalized badge UID.
func (s *studentStore) GetByRFID(ctx context.Context, uid string) (models.Student, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM student WHERE rfid_uid = ?`, uid)
	st, err := scanStudent(row)
	if err != nil {
		if cerrors.IsNotFound(err) {
			return models.Student{}, cerrors.NewNotFoundError(
				"no student registered for badge "+uid, nil)
		}
		return models.Student{}, err
	}
	return st, nil
}

// List returns all students ordered by name.
func (s *studentStore) List(ctx context.Context) ([]models.Student, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+studentColumns+` FROM student ORDER BY name`)
	if err != nil {
		return nil, classify("querying students", err)
	}
	defer func() { _ = rows.Close() }()

	var result []models.Student
	for rows.Next() {
		st, scanErr := scanStudent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		result = append(result, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating student rows: %w", err)
	}
	return result, nil
}

// Delete removes a student.
func (s *studentStore) Delete(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM student WHERE id = ?`, id)
	if err != nil {
		return classify("deleting student", err)
	}
	return requireAffected(res, fmt.Sprintf("student %d not found", id))
}

func scanStudent(sc scanner) (models.Student, error) {
	var (
		st         models.Student
		createdStr string
	)
	err := sc.Scan(&st.ID, &st.Name, &st.RFIDUID, &st.Department, &createdStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Student{}, cerrors.NewNotFoundError("student not found", err)
		}
		return models.Student{}, fmt.Errorf("scanning student row: %w", err)
	}
	if st.CreatedAt, err = parseTime(createdStr); err != nil {
		return models.Student{}, err
	}
	return st, nil
}
