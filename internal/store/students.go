package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cdlta/tracker/internal/schema"
)

// PutStudent inserts or replaces a student.
func (db *DB) PutStudent(ctx context.Context, s *schema.Student) error {
	if s.ID == "" {
		return fmt.Errorf("student_id is required")
	}
	query := `
	INSERT INTO students (student_id, full_name, status)
	VALUES (?, ?, ?)
	ON CONFLICT(student_id) DO UPDATE SET
		full_name = excluded.full_name,
		status = excluded.status
	`
	if _, err := db.conn.ExecContext(ctx, query, s.ID, s.Name, s.Status); err != nil {
		return fmt.Errorf("failed to put student %s: %w", s.ID, err)
	}
	return nil
}

// GetStudent returns the student with the given id or ErrNotFound.
func (db *DB) GetStudent(ctx context.Context, id string) (*schema.Student, error) {
	var s schema.Student
	err := db.conn.QueryRowContext(ctx,
		`SELECT student_id, full_name, status FROM students WHERE student_id = ?`, id,
	).Scan(&s.ID, &s.Name, &s.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("student %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student %s: %w", id, err)
	}
	return &s, nil
}

// ListStudents returns every student ordered by name then id.
func (db *DB) ListStudents(ctx context.Context) ([]*schema.Student, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT student_id, full_name, status FROM students ORDER BY full_name ASC, student_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	students := []*schema.Student{}
	for rows.Next() {
		var s schema.Student
		if err := rows.Scan(&s.ID, &s.Name, &s.Status); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		students = append(students, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating students: %w", err)
	}
	return students, nil
}

// DeleteStudent removes a student. Missing ids are not an error.
func (db *DB) DeleteStudent(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM students WHERE student_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete student %s: %w", id, err)
	}
	return nil
}

// ClearStudents removes every student.
func (db *DB) ClearStudents(ctx context.Context) error {
	return db.Clear(ctx, Students)
}

// CountStudents returns the number of cached students.
func (db *DB) CountStudents(ctx context.Context) (int, error) {
	return db.Count(ctx, Students)
}

// ReplaceStudents clears the students collection and repopulates it with the
// given records inside one transaction. On any error the previous contents
// are kept. Records must already be normalized.
func (db *DB) ReplaceStudents(ctx context.Context, students []*schema.Student) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM students`); err != nil {
		return fmt.Errorf("failed to clear students: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO students (student_id, full_name, status)
	VALUES (?, ?, ?)
	ON CONFLICT(student_id) DO UPDATE SET
		full_name = excluded.full_name,
		status = excluded.status
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare student insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range students {
		if s.ID == "" {
			return fmt.Errorf("student_id is required")
		}
		if _, err := stmt.ExecContext(ctx, s.ID, s.Name, s.Status); err != nil {
			return fmt.Errorf("failed to insert student %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
