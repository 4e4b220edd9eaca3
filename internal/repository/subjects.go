package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SubjectRepository reads the subjects table.
type SubjectRepository struct {
	db *sql.DB
}

// NewSubjectRepository creates a repository.
func NewSubjectRepository(db *sql.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// Exists reports whether the subject is registered.
func (r *SubjectRepository) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM subjects WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query subject: %w", err)
	}
	return true, nil
}
