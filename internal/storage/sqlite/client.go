package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/pitch-perfect/backend/internal/storage/models"
	"github.com/pitch-perfect/backend/pkg/apperrors"
	"github.com/pitch-perfect/backend/pkg/logger"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type Client struct {
	db  *sql.DB
	now func() time.Time
}

func NewClient(dbPath string) (*Client, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", dbPath)
	if dbPath == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return NewClientFromDB(db), nil
}

// NewClientFromDB wraps an existing handle, e.g. a sqlmock connection.
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db, now: time.Now}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pitches (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		user_id TEXT,
		title TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		error_code TEXT NOT NULL DEFAULT '',
		evaluation TEXT,
		overall_score INTEGER,
		favorite INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pitches_org_created ON pitches(org_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_pitches_org_score ON pitches(org_id, overall_score);
	CREATE INDEX IF NOT EXISTS idx_pitches_org_status ON pitches(org_id, status);

	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pitch_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		overall_score INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (pitch_id) REFERENCES pitches(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_pitch ON evaluations(pitch_id, created_at);

	CREATE TABLE IF NOT EXISTS follow_up_questions (
		pitch_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		text TEXT NOT NULL,
		answer TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (pitch_id, position),
		FOREIGN KEY (pitch_id) REFERENCES pitches(id) ON DELETE CASCADE
	);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertPitch(ctx context.Context, p *models.Pitch) error {
	query := `
		INSERT INTO pitches (id, org_id, user_id, title, text, type, status, error_code, favorite, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		p.ID,
		p.OrgID,
		p.UserID,
		p.Title,
		p.Text,
		p.Type,
		string(p.Status),
		p.ErrorCode,
		boolToInt(p.Favorite),
		p.CreatedAt.UnixMilli(),
		p.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pitch: %w", err)
	}

	logger.Debug("Pitch inserted", zap.String("pitch_id", p.ID), zap.String("org_id", p.OrgID))
	return nil
}

func (c *Client) UpdatePitchStatus(ctx context.Context, orgID, id string, status models.PitchStatus, errorCode string) error {
	query := `UPDATE pitches SET status = ?, error_code = ?, updated_at = ? WHERE id = ? AND org_id = ?`
	return c.execOne(ctx, "update pitch status", id, query,
		string(status), errorCode, c.now().UnixMilli(), id, orgID)
}

// CompletePitch stores the transcribed text and initial evaluation and marks
// the pitch completed, atomically.
func (c *Client) CompletePitch(ctx context.Context, orgID, id, text string, payload []byte, overallScore int) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := c.now().UnixMilli()

	res, err := tx.ExecContext(ctx, `
		UPDATE pitches SET text = ?, evaluation = ?, overall_score = ?, status = ?, error_code = '', updated_at = ?
		WHERE id = ? AND org_id = ?
	`, text, string(payload), overallScore, string(models.StatusCompleted), now, id, orgID)
	if err != nil {
		return fmt.Errorf("failed to complete pitch: %w", err)
	}
	if err := expectOne(res, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO evaluations (pitch_id, kind, payload, overall_score, created_at) VALUES (?, ?, ?, ?, ?)
	`, id, string(models.EvaluationInitial), string(payload), overallScore, now); err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pitch completion: %w", err)
	}

	logger.Info("Pitch completed", zap.String("pitch_id", id), zap.Int("overall_score", overallScore))
	return nil
}

const pitchColumns = `id, org_id, user_id, title, text, type, status, error_code, evaluation, overall_score, favorite, created_at, updated_at`

func (c *Client) GetPitch(ctx context.Context, orgID, id string) (*models.Pitch, error) {
	query := `SELECT ` + pitchColumns + ` FROM pitches WHERE id = ? AND org_id = ?`

	p, err := scanPitch(c.db.QueryRowContext(ctx, query, id, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("pitch", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pitch: %w", err)
	}
	return p, nil
}

var sortColumns = map[string]string{
	"":          "created_at",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"score":     "overall_score",
	"title":     "title",
}

// ListPitches returns one page of the org's pitches and the total match count.
func (c *Client) ListPitches(ctx context.Context, f models.ListFilter) ([]models.Pitch, int, error) {
	column, ok := sortColumns[f.SortBy]
	if !ok {
		return nil, 0, apperrors.NewInvalidInputError(fmt.Sprintf("unknown sort field %q", f.SortBy))
	}

	where := []string{"org_id = ?"}
	args := []interface{}{f.OrgID}

	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.FavoritesOnly {
		where = append(where, "favorite = 1")
	}
	if f.MinScore > 0 {
		where = append(where, "overall_score >= ?")
		args = append(args, f.MinScore)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, `(title LIKE ? ESCAPE '\' OR text LIKE ? ESCAPE '\')`)
		pattern := likePattern(q)
		args = append(args, pattern, pattern)
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pitches WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count pitches: %w", err)
	}

	direction := "ASC"
	if f.SortDesc {
		direction = "DESC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM pitches WHERE %s ORDER BY %s %s, id ASC LIMIT ? OFFSET ?`,
		pitchColumns, whereClause, column, direction)

	rows, err := c.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list pitches: %w", err)
	}
	defer rows.Close()

	pitches, err := scanPitches(rows)
	if err != nil {
		return nil, 0, err
	}
	return pitches, total, nil
}

func (c *Client) SetFavorite(ctx context.Context, orgID, id string, favorite bool) error {
	query := `UPDATE pitches SET favorite = ?, updated_at = ? WHERE id = ? AND org_id = ?`
	return c.execOne(ctx, "set favorite", id, query, boolToInt(favorite), c.now().UnixMilli(), id, orgID)
}

func (c *Client) RenamePitch(ctx context.Context, orgID, id, title string) error {
	query := `UPDATE pitches SET title = ?, updated_at = ? WHERE id = ? AND org_id = ?`
	return c.execOne(ctx, "rename pitch", id, query, title, c.now().UnixMilli(), id, orgID)
}

// DeletePitch removes the pitch; evaluations and questions cascade.
func (c *Client) DeletePitch(ctx context.Context, orgID, id string) error {
	if err := c.execOne(ctx, "delete pitch", id, `DELETE FROM pitches WHERE id = ? AND org_id = ?`, id, orgID); err != nil {
		return err
	}
	logger.Info("Pitch deleted", zap.String("pitch_id", id), zap.String("org_id", orgID))
	return nil
}

func (c *Client) InsertEvaluation(ctx context.Context, rec *models.EvaluationRecord) error {
	query := `INSERT INTO evaluations (pitch_id, kind, payload, overall_score, created_at) VALUES (?, ?, ?, ?, ?)`

	res, err := c.db.ExecContext(ctx, query,
		rec.PitchID,
		string(rec.Kind),
		string(rec.Payload),
		rec.OverallScore,
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// ListEvaluations returns every evaluation of a pitch, oldest first.
func (c *Client) ListEvaluations(ctx context.Context, orgID, pitchID string) ([]models.EvaluationRecord, error) {
	query := `
		SELECT e.id, e.pitch_id, e.kind, e.payload, e.overall_score, e.created_at
		FROM evaluations e
		JOIN pitches p ON p.id = e.pitch_id
		WHERE e.pitch_id = ? AND p.org_id = ?
		ORDER BY e.created_at ASC, e.id ASC
	`

	rows, err := c.db.QueryContext(ctx, query, pitchID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	records := []models.EvaluationRecord{}
	for rows.Next() {
		var r models.EvaluationRecord
		var kind, payload string
		var createdAt int64

		if err := rows.Scan(&r.ID, &r.PitchID, &kind, &payload, &r.OverallScore, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Kind = models.EvaluationKind(kind)
		r.Payload = []byte(payload)
		r.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate evaluations: %w", err)
	}

	return records, nil
}

// ReplaceQuestions swaps the pitch's question set; answers are reset.
func (c *Client) ReplaceQuestions(ctx context.Context, pitchID string, texts []string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM follow_up_questions WHERE pitch_id = ?`, pitchID); err != nil {
		return fmt.Errorf("failed to clear questions: %w", err)
	}

	for i, text := range texts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO follow_up_questions (pitch_id, position, text, answer) VALUES (?, ?, ?, '')`,
			pitchID, i, text,
		); err != nil {
			return fmt.Errorf("failed to insert question: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit questions: %w", err)
	}

	logger.Debug("Questions replaced", zap.String("pitch_id", pitchID), zap.Int("count", len(texts)))
	return nil
}

// SaveAnswers stores answers by position. Every position must exist.
func (c *Client) SaveAnswers(ctx context.Context, pitchID string, answers map[int]string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for position, answer := range answers {
		res, err := tx.ExecContext(ctx,
			`UPDATE follow_up_questions SET answer = ? WHERE pitch_id = ? AND position = ?`,
			answer, pitchID, position,
		)
		if err != nil {
			return fmt.Errorf("failed to save answer: %w", err)
		}
		if err := expectOne(res, fmt.Sprintf("%s#%d", pitchID, position)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit answers: %w", err)
	}
	return nil
}

func (c *Client) GetQuestions(ctx context.Context, orgID, pitchID string) ([]models.Question, error) {
	query := `
		SELECT q.pitch_id, q.position, q.text, q.answer
		FROM follow_up_questions q
		JOIN pitches p ON p.id = q.pitch_id
		WHERE q.pitch_id = ? AND p.org_id = ?
		ORDER BY q.position ASC
	`

	rows, err := c.db.QueryContext(ctx, query, pitchID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}
	defer rows.Close()

	questions := []models.Question{}
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.PitchID, &q.Position, &q.Text, &q.Answer); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate questions: %w", err)
	}

	return questions, nil
}

// SearchPitches is the keyword fallback used when no vector index is configured.
func (c *Client) SearchPitches(ctx context.Context, orgID, query string, limit int) ([]models.Pitch, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	pattern := likePattern(query)

	rows, err := c.db.QueryContext(ctx, `
		SELECT `+pitchColumns+` FROM pitches
		WHERE org_id = ? AND (title LIKE ? ESCAPE '\' OR text LIKE ? ESCAPE '\')
		ORDER BY (title LIKE ? ESCAPE '\') DESC, created_at DESC
		LIMIT ?
	`, orgID, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search pitches: %w", err)
	}
	defer rows.Close()

	return scanPitches(rows)
}

// GetPitchesByIDs loads pitches in the order of ids, skipping ids that no
// longer exist or belong to another org.
func (c *Client) GetPitchesByIDs(ctx context.Context, orgID string, ids []string) ([]models.Pitch, error) {
	if len(ids) == 0 {
		return []models.Pitch{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, orgID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+pitchColumns+` FROM pitches WHERE org_id = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pitches: %w", err)
	}
	defer rows.Close()

	found, err := scanPitches(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.Pitch, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	ordered := make([]models.Pitch, 0, len(found))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPitch(row rowScanner) (*models.Pitch, error) {
	var p models.Pitch
	var userID, evaluation sql.NullString
	var score sql.NullInt64
	var status string
	var favorite int
	var createdAt, updatedAt int64

	err := row.Scan(
		&p.ID,
		&p.OrgID,
		&userID,
		&p.Title,
		&p.Text,
		&p.Type,
		&status,
		&p.ErrorCode,
		&evaluation,
		&score,
		&favorite,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.UserID = userID.String
	p.Status = models.PitchStatus(status)
	if evaluation.Valid && evaluation.String != "" {
		p.Evaluation = []byte(evaluation.String)
	}
	if score.Valid {
		s := int(score.Int64)
		p.OverallScore = &s
	}
	p.Favorite = favorite != 0
	p.CreatedAt = time.UnixMilli(createdAt)
	p.UpdatedAt = time.UnixMilli(updatedAt)

	return &p, nil
}

func scanPitches(rows *sql.Rows) ([]models.Pitch, error) {
	pitches := []models.Pitch{}
	for rows.Next() {
		p, err := scanPitch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		pitches = append(pitches, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pitches: %w", err)
	}
	return pitches, nil
}

func (c *Client) execOne(ctx context.Context, op, id, query string, args ...interface{}) error {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError("pitch", id)
	}
	return nil
}

func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(q)) + "%"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
