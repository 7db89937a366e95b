package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nvandessel/skillroute/internal/models"
	"github.com/nvandessel/skillroute/internal/sanitize"
)

// DBFile is the SQLite database name inside the data directory.
const DBFile = "skillroute.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	seq                INTEGER PRIMARY KEY AUTOINCREMENT,
	id                 TEXT NOT NULL UNIQUE,
	timestamp          TEXT NOT NULL,
	user_input         TEXT NOT NULL,
	tool               TEXT NOT NULL,
	command            TEXT NOT NULL,
	feedback           TEXT,
	satisfaction_score INTEGER,
	follow_up_analyzed INTEGER NOT NULL DEFAULT 0,
	feedback_source    TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS feedback (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	score           INTEGER NOT NULL,
	text            TEXT NOT NULL,
	source          TEXT NOT NULL,
	timestamp       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_conversation ON feedback(conversation_id);
`

const conversationColumns = `id, timestamp, user_input, tool, command, feedback, satisfaction_score, follow_up_analyzed, feedback_source`

// SQLiteStore is a Store backed by a single-connection SQLite database.
// Automatic feedback uses a conditional UPDATE as its compare-and-swap.
// Transactions begin IMMEDIATE so a read-then-write from another process
// waits on busy_timeout instead of failing on a stale snapshot.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteStore opens (or creates) skillroute.db in dir.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, &PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}
	path := filepath.Join(dir, DBFile)

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate")
	if err != nil {
		return nil, &PersistenceError{Op: "open", Path: path, Err: err}
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "migrate", Path: path, Err: err}
	}
	return &SQLiteStore{db: db, path: path, now: time.Now}, nil
}

func (s *SQLiteStore) fail(op string, err error) error {
	return &PersistenceError{Op: op, Path: s.path, Err: err}
}

// AddConversation implements Store.
func (s *SQLiteStore) AddConversation(ctx context.Context, userInput, tool, command string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", s.fail("begin", err)
	}
	defer tx.Rollback()

	var ordinal int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&ordinal); err != nil {
		return "", s.fail("count", err)
	}

	now := s.now()
	id := conversationID(now, ordinal)
	for {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return "", s.fail("query", err)
		}
		ordinal++
		id = conversationID(now, ordinal)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, timestamp, user_input, tool, command) VALUES (?, ?, ?, ?, ?)`,
		id, now.Format(time.RFC3339Nano), sanitize.SanitizeUserText(userInput), tool, command)
	if err != nil {
		return "", s.fail("insert", err)
	}
	if err := tx.Commit(); err != nil {
		return "", s.fail("commit", err)
	}
	return id, nil
}

// AddSatisfactionFeedback implements Store.
func (s *SQLiteStore) AddSatisfactionFeedback(ctx context.Context, conversationID string, score int, text string) error {
	if !models.ValidScore(score) {
		return fmt.Errorf("%w: got %d", ErrInvalidScore, score)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("begin", err)
	}
	defer tx.Rollback()

	var existing sql.NullInt64
	var source string
	err = tx.QueryRowContext(ctx,
		`SELECT satisfaction_score, feedback_source FROM conversations WHERE id = ?`, conversationID).
		Scan(&existing, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	if err != nil {
		return s.fail("query", err)
	}
	if existing.Valid && models.FeedbackSource(source) != models.FeedbackAuto {
		return fmt.Errorf("%w: %s", ErrAlreadyRated, conversationID)
	}

	text = sanitize.SanitizeUserText(text)
	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET satisfaction_score = ?, feedback = ?, feedback_source = ? WHERE id = ?`,
		score, text, string(models.FeedbackManual), conversationID)
	if err != nil {
		return s.fail("update", err)
	}
	if err := s.insertFeedback(ctx, tx, conversationID, score, text, models.FeedbackManual); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.fail("commit", err)
	}
	return nil
}

// AddAutoFeedback implements Store.
func (s *SQLiteStore) AddAutoFeedback(ctx context.Context, conversationID string, score int, text string) (bool, error) {
	if !models.ValidScore(score) {
		return false, fmt.Errorf("%w: got %d", ErrInvalidScore, score)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, s.fail("begin", err)
	}
	defer tx.Rollback()

	text = sanitize.SanitizeUserText(text)
	res, err := tx.ExecContext(ctx,
		`UPDATE conversations
		 SET satisfaction_score = ?, feedback = ?, feedback_source = ?, follow_up_analyzed = 1
		 WHERE id = ? AND satisfaction_score IS NULL`,
		score, text, string(models.FeedbackAuto), conversationID)
	if err != nil {
		return false, s.fail("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.fail("update", err)
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		if err != nil {
			return false, s.fail("query", err)
		}
		return false, nil
	}

	if err := s.insertFeedback(ctx, tx, conversationID, score, text, models.FeedbackAuto); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, s.fail("commit", err)
	}
	return true, nil
}

func (s *SQLiteStore) insertFeedback(ctx context.Context, tx *sql.Tx, conversationID string, score int, text string, source models.FeedbackSource) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO feedback (id, conversation_id, score, text, source, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), conversationID, score, text, string(source), s.now().Format(time.RFC3339Nano))
	if err != nil {
		return s.fail("insert", err)
	}
	return nil
}

// GetConversation implements Store.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	convs, err := s.queryConversations(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, conversationID)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	return &convs[0], nil
}

// RecentConversations implements Store.
func (s *SQLiteStore) RecentConversations(ctx context.Context, n int) ([]models.Conversation, error) {
	convs, err := s.queryConversations(ctx, `SELECT `+conversationColumns+` FROM conversations ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	newestFirst(convs)
	if n >= 0 && n < len(convs) {
		convs = convs[:n]
	}
	return convs, nil
}

// UnsatisfiedConversations implements Store.
func (s *SQLiteStore) UnsatisfiedConversations(ctx context.Context) ([]models.Conversation, error) {
	return s.queryConversations(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE satisfaction_score IS NULL OR satisfaction_score <= 2 ORDER BY seq`)
}

// AverageSatisfaction implements Store.
func (s *SQLiteStore) AverageSatisfaction(ctx context.Context) (float64, bool, error) {
	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(score) FROM feedback`).Scan(&avg); err != nil {
		return 0, false, s.fail("query", err)
	}
	if !avg.Valid {
		return 0, false, nil
	}
	return avg.Float64, true, nil
}

// SatisfactionTrend implements Store.
func (s *SQLiteStore) SatisfactionTrend(ctx context.Context) (map[string]float64, error) {
	_, fb, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return dailyMeans(fb), nil
}

// FeedbackScores implements Store.
func (s *SQLiteStore) FeedbackScores(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT score FROM feedback ORDER BY seq`)
	if err != nil {
		return nil, s.fail("query", err)
	}
	defer rows.Close()

	var scores []int
	for rows.Next() {
		var sc int
		if err := rows.Scan(&sc); err != nil {
			return nil, s.fail("scan", err)
		}
		scores = append(scores, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("query", err)
	}
	return scores, nil
}

// Snapshot implements Store.
func (s *SQLiteStore) Snapshot(ctx context.Context) ([]models.Conversation, []models.Feedback, error) {
	convs, err := s.queryConversations(ctx, `SELECT `+conversationColumns+` FROM conversations ORDER BY seq`)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, score, text, source, timestamp FROM feedback ORDER BY seq`)
	if err != nil {
		return nil, nil, s.fail("query", err)
	}
	defer rows.Close()

	var fb []models.Feedback
	for rows.Next() {
		var f models.Feedback
		var source, ts string
		if err := rows.Scan(&f.ID, &f.ConversationID, &f.Score, &f.Text, &source, &ts); err != nil {
			return nil, nil, s.fail("scan", err)
		}
		f.Source = models.FeedbackSource(source)
		if f.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, nil, s.fail("decode", err)
		}
		fb = append(fb, f)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, s.fail("query", err)
	}
	return convs, fb, nil
}

// Replace implements Store.
func (s *SQLiteStore) Replace(ctx context.Context, conversations []models.Conversation, feedback []models.Feedback) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("begin", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"conversations", "feedback"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return s.fail("delete", err)
		}
	}
	for _, c := range conversations {
		var score sql.NullInt64
		if c.SatisfactionScore != nil {
			score = sql.NullInt64{Int64: int64(*c.SatisfactionScore), Valid: true}
		}
		var text sql.NullString
		if c.Feedback != nil {
			text = sql.NullString{String: *c.Feedback, Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Timestamp.Format(time.RFC3339Nano), c.UserInput, c.Tool, c.Command,
			text, score, c.FollowUpAnalyzed, string(c.FeedbackSource))
		if err != nil {
			return s.fail("insert", err)
		}
	}
	for _, f := range feedback {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO feedback (id, conversation_id, score, text, source, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
			f.ID, f.ConversationID, f.Score, f.Text, string(f.Source), f.Timestamp.Format(time.RFC3339Nano))
		if err != nil {
			return s.fail("insert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return s.fail("commit", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryConversations(ctx context.Context, query string, args ...interface{}) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var ts, source string
		var feedback sql.NullString
		var score sql.NullInt64
		if err := rows.Scan(&c.ID, &ts, &c.UserInput, &c.Tool, &c.Command,
			&feedback, &score, &c.FollowUpAnalyzed, &source); err != nil {
			return nil, s.fail("scan", err)
		}
		if c.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, s.fail("decode", err)
		}
		if feedback.Valid {
			f := feedback.String
			c.Feedback = &f
		}
		if score.Valid {
			sc := int(score.Int64)
			c.SatisfactionScore = &sc
		}
		c.FeedbackSource = models.FeedbackSource(source)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("query", err)
	}
	return out, nil
}
