// Package postgres implements the identity stores backed by PostgreSQL.
// Schema design lives with the persistence service; this adapter only touches
// the columns identity resolution needs.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/user"
	"github.com/shule-ai/tutor-gateway/internal/app/storage"
)

// Store implements the user and subject stores on a database handle.
type Store struct {
	db *sql.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.SubjectStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, wa_id, name, birth_date, region, school_name, onboarding_state, created_at, updated_at`

func scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	var name, region, school sql.NullString
	var birth sql.NullTime
	err := row.Scan(&u.ID, &u.WAID, &name, &birth, &region, &school, &u.Onboarding, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, storage.ErrNotFound
	}
	if err != nil {
		return user.User{}, err
	}
	u.Name = name.String
	u.Region = region.String
	u.SchoolName = school.String
	if birth.Valid {
		t := birth.Time
		u.BirthDate = &t
	}
	return u, nil
}

func (s *Store) GetUserByWAID(ctx context.Context, waID string) (user.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE wa_id = $1`, waID)
	return scanUser(row)
}

func (s *Store) GetOrCreateUser(ctx context.Context, waID string) (user.User, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, wa_id, onboarding_state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (wa_id) DO UPDATE SET wa_id = EXCLUDED.wa_id
		RETURNING `+userColumns,
		uuid.NewString(), waID, user.OnboardingNew, now)
	return scanUser(row)
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET name = NULLIF($2, ''), birth_date = $3, region = NULLIF($4, ''),
		    school_name = NULLIF($5, ''), onboarding_state = $6, updated_at = $7
		WHERE id = $1
		RETURNING `+userColumns,
		u.ID, u.Name, u.BirthDate, u.Region, u.SchoolName, u.Onboarding, time.Now().UTC())
	return scanUser(row)
}

func (s *Store) ListSubjects(ctx context.Context) ([]user.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM subjects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []user.Subject
	for rows.Next() {
		var subject user.Subject
		if err := rows.Scan(&subject.ID, &subject.Name); err != nil {
			return nil, err
		}
		subjects = append(subjects, subject)
	}
	return subjects, rows.Err()
}

func (s *Store) GetSubject(ctx context.Context, subjectID int64) (user.Subject, []user.Class, error) {
	var subject user.Subject
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM subjects WHERE id = $1`, subjectID).
		Scan(&subject.ID, &subject.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return user.Subject{}, nil, storage.ErrNotFound
	}
	if err != nil {
		return user.Subject{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, name FROM classes WHERE subject_id = $1 ORDER BY id`, subjectID)
	if err != nil {
		return user.Subject{}, nil, err
	}
	defer rows.Close()

	var classes []user.Class
	for rows.Next() {
		var class user.Class
		if err := rows.Scan(&class.ID, &class.SubjectID, &class.Name); err != nil {
			return user.Subject{}, nil, err
		}
		classes = append(classes, class)
	}
	return subject, classes, rows.Err()
}

func (s *Store) SetUserClasses(ctx context.Context, userID string, subjectID int64, classIDs []int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_classes (user_id, subject_id, class_ids, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, subject_id)
		DO UPDATE SET class_ids = EXCLUDED.class_ids, updated_at = EXCLUDED.updated_at`,
		userID, subjectID, pq.Array(classIDs), time.Now().UTC())
	return err
}
