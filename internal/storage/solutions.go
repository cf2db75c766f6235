package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const solutionColumns = `id, problem_tag, step, title, content, procedures_json,
	resources_json, keywords, category, difficulty, created_at, updated_at`

// SaveSolution upserts a catalog record by (problem_tag, step).
func (s *Store) SaveSolution(ctx context.Context, sol Solution) error {
	if sol.ProceduresJSON == "" {
		sol.ProceduresJSON = "[]"
	}
	if sol.ResourcesJSON == "" {
		sol.ResourcesJSON = "[]"
	}
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO solutions (id, problem_tag, step, title, content, procedures_json,
				resources_json, keywords, category, difficulty, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(problem_tag, step) DO UPDATE SET
				title = excluded.title,
				content = excluded.content,
				procedures_json = excluded.procedures_json,
				resources_json = excluded.resources_json,
				keywords = excluded.keywords,
				category = excluded.category,
				difficulty = excluded.difficulty,
				updated_at = excluded.updated_at`,
			sol.ID, sol.ProblemTag, sol.Step, sol.Title, sol.Content, sol.ProceduresJSON,
			sol.ResourcesJSON, sol.Keywords, sol.Category, sol.Difficulty,
			formatTime(sol.CreatedAt), formatTime(sol.UpdatedAt),
		)
		return err
	})
}

// SolutionByTagStep looks up a catalog record by (problem_tag, step).
// Returns ErrNotFound when absent.
func (s *Store) SolutionByTagStep(ctx context.Context, tag string, step int) (Solution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+solutionColumns+` FROM solutions WHERE problem_tag = ? AND step = ?`, tag, step)
	return scanSolution(row)
}

// SolutionByID looks up a catalog record by ID. Returns ErrNotFound when absent.
func (s *Store) SolutionByID(ctx context.Context, id string) (Solution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+solutionColumns+` FROM solutions WHERE id = ?`, id)
	return scanSolution(row)
}

// HasStep reports whether a record exists for (problem_tag, step).
func (s *Store) HasStep(ctx context.Context, tag string, step int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM solutions WHERE problem_tag = ? AND step = ?`, tag, step).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MaxStep returns the highest step recorded for a problem tag, 0 if none.
func (s *Store) MaxStep(ctx context.Context, tag string) (int, error) {
	var maxStep sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(step) FROM solutions WHERE problem_tag = ?`, tag).Scan(&maxStep)
	if err != nil {
		return 0, err
	}
	return int(maxStep.Int64), nil
}

// LexicalSearch returns solutions whose title, content, keywords, or problem
// tag contain any of the given terms, lowest step first. This is the fallback
// path when vector search is unavailable or scores below threshold.
func (s *Store) LexicalSearch(ctx context.Context, terms []string, category string, limit int) ([]Solution, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	var clauses []string
	var args []interface{}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		pattern := "%" + term + "%"
		clauses = append(clauses,
			`(LOWER(title) LIKE ? OR LOWER(content) LIKE ? OR LOWER(keywords) LIKE ? OR LOWER(problem_tag) LIKE ?)`)
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	query := `SELECT ` + solutionColumns + ` FROM solutions WHERE (` + strings.Join(clauses, " OR ") + `)`
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY step ASC, updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var results []Solution
	for rows.Next() {
		sol, err := scanSolutionRows(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sol)
	}
	return results, rows.Err()
}

// CountSolutions returns the size of the solution catalog.
func (s *Store) CountSolutions(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM solutions`).Scan(&count)
	return count, err
}

func scanSolution(row *sql.Row) (Solution, error) {
	var sol Solution
	var createdAt, updatedAt string
	err := row.Scan(&sol.ID, &sol.ProblemTag, &sol.Step, &sol.Title, &sol.Content,
		&sol.ProceduresJSON, &sol.ResourcesJSON, &sol.Keywords, &sol.Category,
		&sol.Difficulty, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Solution{}, ErrNotFound
	}
	if err != nil {
		return Solution{}, err
	}
	return finishSolution(sol, createdAt, updatedAt)
}

func scanSolutionRows(rows *sql.Rows) (Solution, error) {
	var sol Solution
	var createdAt, updatedAt string
	err := rows.Scan(&sol.ID, &sol.ProblemTag, &sol.Step, &sol.Title, &sol.Content,
		&sol.ProceduresJSON, &sol.ResourcesJSON, &sol.Keywords, &sol.Category,
		&sol.Difficulty, &createdAt, &updatedAt)
	if err != nil {
		return Solution{}, err
	}
	return finishSolution(sol, createdAt, updatedAt)
}

func finishSolution(sol Solution, createdAt, updatedAt string) (Solution, error) {
	var err error
	if sol.CreatedAt, err = parseTime(createdAt); err != nil {
		return Solution{}, fmt.Errorf("parsing created_at for solution %s: %w", sol.ID, err)
	}
	if sol.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Solution{}, fmt.Errorf("parsing updated_at for solution %s: %w", sol.ID, err)
	}
	return sol, nil
}
