package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/models"
	"github.com/consultease/consultease/pkg/storage"
)

type consultationStore struct {
	q querier
}

var _ storage.ConsultationStore = (*consultationStore)(nil)

const consultationColumns = `id, message_id, student_id, faculty_id, course_code,
	message, status, requested_at, accepted_at, completed_at`

// Create inserts a new consultation. Status defaults to PENDING when unset.
func (c *consultationStore) Create(ctx context.Context, con models.Consultation) (models.Consultation, error) {
	status := con.Status
	if status == "" {
		status = models.StatusPending
	}
	requestedAt := con.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now()
	}

	res, err := c.q.ExecContext(ctx, `
		INSERT INTO consultation (message_id, student_id, faculty_id, course_code, message, status, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		con.MessageID, con.StudentID, con.FacultyID, con.CourseCode,
		con.Message, string(status), formatTime(requestedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Consultation{}, cerrors.NewConflictError(
				"message id "+con.MessageID+" already used", err)
		}
		if isForeignKeyViolation(err) {
			return models.Consultation{}, cerrors.NewNotFoundError(
				"referenced student or faculty does not exist", err)
		}
		return models.Consultation{}, classify("inserting consultation", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Consultation{}, fmt.Errorf("getting consultation id: %w", err)
	}
	return c.Get(ctx, id)
}

// Get retrieves a consultation by id.
func (c *consultationStore) Get(ctx context.Context, id int64) (models.Consultation, error) {
	row := c.q.QueryRowContext(ctx,
		`SELECT `+consultationColumns+` FROM consultation WHERE id = ?`, id)
	con, err := scanConsultation(row)
	if err != nil {
		if cerrors.IsNotFound(err) {
			return models.Consultation{}, cerrors.NewNotFoundError(
				fmt.Sprintf("consultation %d not found", id), nil)
		}
		return models.Consultation{}, err
	}
	return con, nil
}

// GetByMessageID retrieves a consultation by its correlation id.
func (c *consultationStore) GetByMessageID(ctx context.Context, messageID string) (models.Consultation, error) {
	row := c.q.QueryRowContext(ctx,
		`SELECT `+consultationColumns+` FROM consultation WHERE message_id = ?`, messageID)
	con, err := scanConsultation(row)
	if err != nil {
		if cerrors.IsNotFound(err) {
			return models.Consultation{}, cerrors.NewNotFoundError(
				"no consultation for message id "+messageID, nil)
		}
		return models.Consultation{}, err
	}
	return con, nil
}

// List returns consultations matching the filter, newest first.
func (c *consultationStore) List(ctx context.Context, filter storage.ConsultationFilter) ([]models.Consultation, error) {
	query := `SELECT ` + consultationColumns + ` FROM consultation`

	var clauses []string
	var args []any
	if filter.StudentID != 0 {
		clauses = append(clauses, `student_id = ?`)
		args = append(args, filter.StudentID)
	}
	if filter.FacultyID != 0 {
		clauses = append(clauses, `faculty_id = ?`)
		args = append(args, filter.FacultyID)
	}
	if filter.Status != "" {
		clauses = append(clauses, `status = ?`)
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY requested_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("querying consultations", err)
	}
	defer func() { _ = rows.Close() }()

	var result []models.Consultation
	for rows.Next() {
		con, scanErr := scanConsultation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		result = append(result, con)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating consultation rows: %w", err)
	}
	return result, nil
}

// Transition moves a consultation along one state-machine edge. The guarded
// update applies only while the stored status still equals from, which keeps
// replayed responses from double-transitioning.
func (c *consultationStore) Transition(
	ctx context.Context, id int64, from, to models.ConsultationStatus, at time.Time,
) (models.Consultation, error) {
	if !from.CanTransitionTo(to) {
		return models.Consultation{}, cerrors.NewInvalidTransitionError(
			fmt.Sprintf("consultation cannot move %s -> %s", from, to), nil)
	}

	sets := []string{`status = ?`}
	args := []any{string(to)}
	switch to {
	case models.StatusAccepted:
		sets = append(sets, `accepted_at = ?`)
		args = append(args, formatTime(at))
	case models.StatusCompleted:
		sets = append(sets, `completed_at = ?`)
		args = append(args, formatTime(at))
	}

	query := `UPDATE consultation SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`
	args = append(args, id, string(from))

	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return models.Consultation{}, classify("transitioning consultation", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return models.Consultation{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		cur, getErr := c.Get(ctx, id)
		if getErr != nil {
			return models.Consultation{}, getErr
		}
		return models.Consultation{}, cerrors.NewInvalidTransitionError(
			fmt.Sprintf("consultation %d is %s, cannot move %s -> %s", id, cur.Status, from, to), nil)
	}

	return c.Get(ctx, id)
}

// ListStalePending returns PENDING consultations requested at or before the
// cutoff, oldest first.
func (c *consultationStore) ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Consultation, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+consultationColumns+` FROM consultation
		WHERE status = ? AND requested_at <= ?
		ORDER BY requested_at ASC`,
		string(models.StatusPending), formatTime(cutoff),
	)
	if err != nil {
		return nil, classify("querying stale consultations", err)
	}
	defer func() { _ = rows.Close() }()

	var result []models.Consultation
	for rows.Next() {
		con, scanErr := scanConsultation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		result = append(result, con)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating consultation rows: %w", err)
	}
	return result, nil
}

func scanConsultation(sc scanner) (models.Consultation, error) {
	var (
		con          models.Consultation
		status       string
		requestedStr string
		acceptedAt   sql.NullString
		completedAt  sql.NullString
	)
	err := sc.Scan(
		&con.ID, &con.MessageID, &con.StudentID, &con.FacultyID,
		&con.CourseCode, &con.Message, &status, &requestedStr,
		&acceptedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Consultation{}, cerrors.NewNotFoundError("consultation not found", err)
		}
		return models.Consultation{}, fmt.Errorf("scanning consultation row: %w", err)
	}

	con.Status = models.ConsultationStatus(status)
	if con.RequestedAt, err = parseTime(requestedStr); err != nil {
		return models.Consultation{}, err
	}
	if con.AcceptedAt, err = parseNullTime(acceptedAt); err != nil {
		return models.Consultation{}, err
	}
	if con.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return models.Consultation{}, err
	}
	return con, nil
}
