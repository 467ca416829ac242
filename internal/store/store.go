package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lingora/lingora/internal/model"

	_ "modernc.org/sqlite"
)

// ErrPassageNotFound is returned when a passage id has no catalog entry.
var ErrPassageNotFound = errors.New("passage not found")

// ErrSessionNotFound is returned when a session record id does not exist.
var ErrSessionNotFound = errors.New("session not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS passages (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		time_limit INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		passage_id TEXT NOT NULL,
		question_text TEXT NOT NULL,
		recommended_answer TEXT NOT NULL DEFAULT '',
		ord INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (passage_id) REFERENCES passages(id)
	);

	CREATE TABLE IF NOT EXISTS session_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		passage_id TEXT NOT NULL,
		full_transcript TEXT NOT NULL,
		duration INTEGER NOT NULL DEFAULT 0,
		comprehension_score INTEGER NOT NULL DEFAULT 0,
		fluency_score INTEGER NOT NULL DEFAULT 0,
		lexical_score INTEGER NOT NULL DEFAULT 0,
		grammatical_score INTEGER NOT NULL DEFAULT 0,
		pronunciation_score INTEGER NOT NULL DEFAULT 0,
		responsiveness_score INTEGER NOT NULL DEFAULT 0,
		overall_score INTEGER NOT NULL DEFAULT 0,
		comprehension_feedback TEXT NOT NULL DEFAULT '',
		fluency_feedback TEXT NOT NULL DEFAULT '',
		lexical_feedback TEXT NOT NULL DEFAULT '',
		grammatical_feedback TEXT NOT NULL DEFAULT '',
		pronunciation_feedback TEXT NOT NULL DEFAULT '',
		responsiveness_feedback TEXT NOT NULL DEFAULT '',
		overall_feedback TEXT NOT NULL DEFAULT '',
		questions_asked TEXT NOT NULL DEFAULT '',
		user_answers TEXT NOT NULL DEFAULT '',
		recommended_answers TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (passage_id) REFERENCES passages(id)
	);

	CREATE TABLE IF NOT EXISTS catalog_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertPassage stores a passage together with its questions in one transaction.
func (s *Store) InsertPassage(p model.Passage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = tx.Exec(
		`INSERT INTO passages (id, title, content, time_limit, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Content, p.TimeLimit, createdAt,
	)
	if err != nil {
		return err
	}

	for _, q := range p.Questions {
		_, err := tx.Exec(
			`INSERT INTO questions (id, passage_id, question_text, recommended_answer, ord) VALUES (?, ?, ?, ?, ?)`,
			q.ID, p.ID, q.Text, q.RecommendedAnswer, q.Order,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetPassage returns a passage by id with its questions in presentation order.
// Returns ErrPassageNotFound when the id has no catalog entry.
func (s *Store) GetPassage(id string) (model.Passage, error) {
	var p model.Passage
	err := s.db.QueryRow(
		`SELECT id, title, content, time_limit, created_at FROM passages WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &p.Content, &p.TimeLimit, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrPassageNotFound
	}
	if err != nil {
		return p, err
	}

	p.Questions, err = s.questionsForPassage(id)
	return p, err
}

func (s *Store) questionsForPassage(passageID string) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, passage_id, question_text, recommended_answer, ord
		 FROM questions WHERE passage_id = ? ORDER BY ord`, passageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.PassageID, &q.Text, &q.RecommendedAnswer, &q.Order); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ListPassages returns all passages ordered by recency, each with its
// questions and the number of sessions recorded against it.
func (s *Store) ListPassages() ([]model.PassageSummary, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.title, p.content, p.time_limit, p.created_at,
		        (SELECT COUNT(*) FROM session_records r WHERE r.passage_id = p.id)
		 FROM passages p ORDER BY p.created_at DESC, p.id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passages []model.PassageSummary
	for rows.Next() {
		var ps model.PassageSummary
		if err := rows.Scan(&ps.ID, &ps.Title, &ps.Content, &ps.TimeLimit, &ps.CreatedAt, &ps.SessionCount); err != nil {
			return nil, err
		}
		passages = append(passages, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range passages {
		qs, err := s.questionsForPassage(passages[i].ID)
		if err != nil {
			return nil, err
		}
		passages[i].Questions = qs
	}
	return passages, nil
}

// PassageCount returns the number of passages in the catalog.
func (s *Store) PassageCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM passages`).Scan(&count)
	return count, err
}

// CreateSessionRecord inserts a graded session record. The insert is a single
// statement, so a record is either fully stored or not stored at all. The
// primary key rejects a second create with the same id.
func (s *Store) CreateSessionRecord(rec model.SessionRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO session_records (
			id, user_id, passage_id, full_transcript, duration,
			comprehension_score, fluency_score, lexical_score, grammatical_score,
			pronunciation_score, responsiveness_score, overall_score,
			comprehension_feedback, fluency_feedback, lexical_feedback,
			grammatical_feedback, pronunciation_feedback, responsiveness_feedback,
			overall_feedback, questions_asked, user_answers, recommended_answers, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.PassageID, rec.FullTranscript, rec.Duration,
		rec.ComprehensionScore, rec.FluencyScore, rec.LexicalScore, rec.GrammaticalScore,
		rec.PronunciationScore, rec.ResponsivenessScore, rec.OverallScore,
		rec.ComprehensionFeedback, rec.FluencyFeedback, rec.LexicalFeedback,
		rec.GrammaticalFeedback, rec.PronunciationFeedback, rec.ResponsivenessFeedback,
		rec.OverallFeedback, rec.QuestionsAsked, rec.UserAnswers, rec.RecommendedAnswers, createdAt,
	)
	return err
}

// GetSessionRecord returns a session record by id.
// Returns ErrSessionNotFound when the id does not exist.
func (s *Store) GetSessionRecord(id string) (model.SessionRecord, error) {
	rec, err := s.scanSessionRecord(s.db.QueryRow(sessionRecordSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return rec, ErrSessionNotFound
	}
	return rec, err
}

// ListSessionRecords returns all session records, newest first.
func (s *Store) ListSessionRecords() ([]model.SessionRecord, error) {
	rows, err := s.db.Query(sessionRecordSelect + ` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.SessionRecord
	for rows.Next() {
		rec, err := s.scanSessionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const sessionRecordSelect = `SELECT
	id, user_id, passage_id, full_transcript, duration,
	comprehension_score, fluency_score, lexical_score, grammatical_score,
	pronunciation_score, responsiveness_score, overall_score,
	comprehension_feedback, fluency_feedback, lexical_feedback,
	grammatical_feedback, pronunciation_feedback, responsiveness_feedback,
	overall_feedback, questions_asked, user_answers, recommended_answers, created_at
	FROM session_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSessionRecord(row rowScanner) (model.SessionRecord, error) {
	var rec model.SessionRecord
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.PassageID, &rec.FullTranscript, &rec.Duration,
		&rec.ComprehensionScore, &rec.FluencyScore, &rec.LexicalScore, &rec.GrammaticalScore,
		&rec.PronunciationScore, &rec.ResponsivenessScore, &rec.OverallScore,
		&rec.ComprehensionFeedback, &rec.FluencyFeedback, &rec.LexicalFeedback,
		&rec.GrammaticalFeedback, &rec.PronunciationFeedback, &rec.ResponsivenessFeedback,
		&rec.OverallFeedback, &rec.QuestionsAsked, &rec.UserAnswers, &rec.RecommendedAnswers, &rec.CreatedAt,
	)
	return rec, err
}
