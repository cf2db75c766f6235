package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const threadColumns = `id, customer_id, status, started_at, last_active_at,
	total_messages, user_messages, assistant_messages, system_messages,
	issue_resolved, context_json, scratch_json`

// CreateThread inserts a new thread record.
func (s *Store) CreateThread(ctx context.Context, t Thread) error {
	if t.ContextJSON == "" {
		t.ContextJSON = "{}"
	}
	if t.ScratchJSON == "" {
		t.ScratchJSON = "{}"
	}
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO threads (id, customer_id, status, started_at, last_active_at,
				total_messages, user_messages, assistant_messages, system_messages,
				issue_resolved, context_json, scratch_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.CustomerID, t.Status, formatTime(t.StartedAt), formatTime(t.LastActiveAt),
			t.TotalMessages, t.UserMessages, t.AssistantMessages, t.SystemMessages,
			boolToInt(t.IssueResolved), t.ContextJSON, t.ScratchJSON,
		)
		return err
	})
}

// GetThread loads a thread by ID. Returns ErrNotFound when absent.
func (s *Store) GetThread(ctx context.Context, id string) (Thread, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = ?`, id)
	return scanThread(row)
}

// UpdateThread persists the mutable thread fields after an orchestrator step.
func (s *Store) UpdateThread(ctx context.Context, t Thread) error {
	return withWriteRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE threads SET status = ?, last_active_at = ?,
				total_messages = ?, user_messages = ?, assistant_messages = ?, system_messages = ?,
				issue_resolved = ?, context_json = ?, scratch_json = ?
			WHERE id = ?`,
			t.Status, formatTime(t.LastActiveAt),
			t.TotalMessages, t.UserMessages, t.AssistantMessages, t.SystemMessages,
			boolToInt(t.IssueResolved), t.ContextJSON, t.ScratchJSON, t.ID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AppendMessage appends a message to a thread, allocating the next sequence
// number inside the same transaction. Appending a message whose ID already
// exists is a no-op (idempotent merge). Returns the stored message.
func (s *Store) AppendMessage(ctx context.Context, m Message) (Message, error) {
	err := withWriteRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning append transaction: %w", err)
		}

		var exists int
		if err := tx.QueryRow("SELECT COUNT(*) FROM messages WHERE id = ?", m.ID).Scan(&exists); err != nil {
			tx.Rollback()
			return fmt.Errorf("checking message id: %w", err)
		}
		if exists > 0 {
			tx.Rollback()
			return nil
		}

		if m.SequenceNumber == 0 {
			var maxSeq sql.NullInt64
			if err := tx.QueryRow("SELECT MAX(sequence_number) FROM messages WHERE thread_id = ?", m.ThreadID).Scan(&maxSeq); err != nil {
				tx.Rollback()
				return fmt.Errorf("reading max sequence: %w", err)
			}
			m.SequenceNumber = int(maxSeq.Int64) + 1
		}

		if _, err := tx.Exec(`
			INSERT INTO messages (id, thread_id, role, content, sequence_number, created_at,
				user_intent, user_sentiment, response_type, solution_id, confidence_score)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ThreadID, m.Role, m.Content, m.SequenceNumber, formatTime(m.CreatedAt),
			m.UserIntent, m.UserSentiment, m.ResponseType, m.SolutionID, m.ConfidenceScore,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting message %s: %w", m.ID, err)
		}

		return tx.Commit()
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// ListMessages returns all messages of a thread ordered by sequence number.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content, sequence_number, created_at,
			user_intent, user_sentiment, response_type, solution_id, confidence_score
		FROM messages WHERE thread_id = ? ORDER BY sequence_number ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.SequenceNumber, &createdAt,
			&m.UserIntent, &m.UserSentiment, &m.ResponseType, &m.SolutionID, &m.ConfidenceScore); err != nil {
			return nil, err
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for message %s: %w", m.ID, err)
		}
		m.CreatedAt = t
		results = append(results, m)
	}
	return results, rows.Err()
}

// AttachFeedback sets post-hoc feedback fields on an existing message.
// Messages are otherwise immutable.
func (s *Store) AttachFeedback(ctx context.Context, messageID, sentiment string) error {
	return withWriteRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE messages SET user_sentiment = ? WHERE id = ?`, sentiment, messageID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ArchiveTerminalBefore archives resolved and escalated threads whose last
// activity predates the cutoff. Returns the number of threads archived.
func (s *Store) ArchiveTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var archived int
	err := withWriteRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE threads SET status = ?
			WHERE status IN (?, ?) AND last_active_at < ?`,
			StatusArchived, StatusResolved, StatusEscalated, formatTime(cutoff))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		archived = int(n)
		return nil
	})
	return archived, err
}

func scanThread(row *sql.Row) (Thread, error) {
	var t Thread
	var startedAt, lastActiveAt string
	var resolved int
	err := row.Scan(&t.ID, &t.CustomerID, &t.Status, &startedAt, &lastActiveAt,
		&t.TotalMessages, &t.UserMessages, &t.AssistantMessages, &t.SystemMessages,
		&resolved, &t.ContextJSON, &t.ScratchJSON)
	if err == sql.ErrNoRows {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, err
	}
	t.IssueResolved = resolved != 0
	if t.StartedAt, err = parseTime(startedAt); err != nil {
		return Thread{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if t.LastActiveAt, err = parseTime(lastActiveAt); err != nil {
		return Thread{}, fmt.Errorf("parsing last_active_at: %w", err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
