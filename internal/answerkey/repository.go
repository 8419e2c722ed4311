package answerkey

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Record is a submitted answer key as persisted for an exam.
type Record struct {
	ExamCode            string     `json:"exam_code"`
	TemplateFingerprint string     `json:"template_fingerprint"`
	TotalPoints         float64    `json:"total_points"`
	Answers             AllAnswers `json:"answers"`
	Scores              ScoreMap   `json:"scores"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type Repository interface {
	SaveAnswerKey(ctx context.Context, rec Record) (*Record, error)
	LoadAnswerKey(ctx context.Context, examCode string) (*Record, error)
}

const answerKeySchema = `
CREATE TABLE IF NOT EXISTS exam_answer_keys (
	exam_code            TEXT PRIMARY KEY,
	template_fingerprint TEXT NOT NULL,
	total_points         DOUBLE PRECISION NOT NULL,
	answers              JSONB NOT NULL DEFAULT '{}'::jsonb,
	scores               JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, answerKeySchema); err != nil {
		return fmt.Errorf("create exam_answer_keys: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveAnswerKey(ctx context.Context, rec Record) (*Record, error) {
	code := strings.TrimSpace(rec.ExamCode)
	if code == "" {
		return nil, ErrInvalidExamCode
	}
	answersJSON, err := json.Marshal(nonNilAnswers(rec.Answers))
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}
	scoresJSON, err := json.Marshal(nonNilScores(rec.Scores))
	if err != nil {
		return nil, fmt.Errorf("encode scores: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO exam_answer_keys (
			exam_code,
			template_fingerprint,
			total_points,
			answers,
			scores,
			updated_at
		) VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, now())
		ON CONFLICT (exam_code) DO UPDATE SET
			template_fingerprint = EXCLUDED.template_fingerprint,
			total_points = EXCLUDED.total_points,
			answers = EXCLUDED.answers,
			scores = EXCLUDED.scores,
			updated_at = now()
		RETURNING exam_code, template_fingerprint, total_points, answers, scores, updated_at
	`, code, rec.TemplateFingerprint, rec.TotalPoints, string(answersJSON), string(scoresJSON))

	saved, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("upsert answer key: %w", err)
	}
	return saved, nil
}

func (r *PostgresRepository) LoadAnswerKey(ctx context.Context, examCode string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT exam_code, template_fingerprint, total_points, answers, scores, updated_at
		FROM exam_answer_keys
		WHERE exam_code = $1
	`, strings.TrimSpace(examCode))

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAnswerKeyNotFound
		}
		return nil, fmt.Errorf("query answer key: %w", err)
	}
	return rec, nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var (
		rec         Record
		answersJSON []byte
		scoresJSON  []byte
	)
	if err := row.Scan(&rec.ExamCode, &rec.TemplateFingerprint, &rec.TotalPoints, &answersJSON, &scoresJSON, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(answersJSON, &rec.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	if err := json.Unmarshal(scoresJSON, &rec.Scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	rec.Answers = nonNilAnswers(rec.Answers)
	rec.Scores = nonNilScores(rec.Scores)
	return &rec, nil
}

// MemoryRepository keeps answer keys in process. It is used when no database
// is configured and in tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	keys map[string]Record
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{keys: make(map[string]Record), now: time.Now}
}

func (m *MemoryRepository) SaveAnswerKey(_ context.Context, rec Record) (*Record, error) {
	code := strings.TrimSpace(rec.ExamCode)
	if code == "" {
		return nil, ErrInvalidExamCode
	}
	rec.ExamCode = code
	rec.Answers = nonNilAnswers(rec.Answers).Clone()
	rec.Scores = nonNilScores(rec.Scores).Clone()
	rec.UpdatedAt = m.now().UTC()

	m.mu.Lock()
	m.keys[code] = rec
	m.mu.Unlock()

	out := rec
	out.Answers = rec.Answers.Clone()
	out.Scores = rec.Scores.Clone()
	return &out, nil
}

func (m *MemoryRepository) LoadAnswerKey(_ context.Context, examCode string) (*Record, error) {
	m.mu.RLock()
	rec, ok := m.keys[strings.TrimSpace(examCode)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrAnswerKeyNotFound
	}
	rec.Answers = rec.Answers.Clone()
	rec.Scores = rec.Scores.Clone()
	return &rec, nil
}

func nonNilAnswers(a AllAnswers) AllAnswers {
	if a == nil {
		return AllAnswers{}
	}
	return a
}

func nonNilScores(s ScoreMap) ScoreMap {
	if s == nil {
		return ScoreMap{}
	}
	return s
}
