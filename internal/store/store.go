package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lukasbauer/interviewer/internal/costs"
	"github.com/lukasbauer/interviewer/internal/interview"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// stringOrDefault returns the string value or a default if nil
func stringOrDefault(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Interview is an interview definition owned by a user.
type Interview struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Title           string    `json:"title"`
	Objective       string    `json:"objective"`
	Persona         string    `json:"persona"`
	IntroText       *string   `json:"intro_text,omitempty"`
	ClosingText     *string   `json:"closing_text,omitempty"`
	QuestionsText   string    `json:"questions_text"`
	AccountName     string    `json:"account_name"`
	InterviewerName string    `json:"interviewer_name"`
	Target          string    `json:"target"`
	Purpose         string    `json:"purpose"`
	Media           string    `json:"media"`
	CreatedAt       time.Time `json:"created_at"`
}

// Meta returns the fields used to template the introduction.
func (iv Interview) Meta() interview.InterviewMeta {
	return interview.InterviewMeta{
		AccountName:     iv.AccountName,
		InterviewerName: iv.InterviewerName,
		Title:           iv.Title,
		Target:          iv.Target,
		Purpose:         iv.Purpose,
		Media:           iv.Media,
	}
}

// Seed parses the interview into the seed of a question plan.
func (iv Interview) Seed() (interview.PlanSeed, error) {
	questions, err := interview.ParsePlanSeed(iv.QuestionsText)
	if err != nil {
		return interview.PlanSeed{}, fmt.Errorf("interview %s: %w", iv.ID, err)
	}
	return interview.PlanSeed{
		Title:     iv.Title,
		Objective: iv.Objective,
		Persona:   iv.Persona,
		Intro:     stringOrDefault(iv.IntroText, iv.Meta().IntroText()),
		Closing:   stringOrDefault(iv.ClosingText, ""),
		Questions: questions,
	}, nil
}

// Session is one run of an interview with a respondent.
type Session struct {
	ID          string     `json:"id"`
	InterviewID string     `json:"interview_id"`
	Phase       string     `json:"phase"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// GetInterview loads an interview by ID.
func (s *Store) GetInterview(ctx context.Context, id string) (*Interview, error) {
	var iv Interview
	err := s.db.QueryRow(ctx, `
		SELECT id, owner_id, title, COALESCE(objective, ''), COALESCE(persona, ''),
		       intro_text, closing_text, questions_text,
		       COALESCE(account_name, ''), COALESCE(interviewer_name, ''),
		       COALESCE(target, ''), COALESCE(purpose, ''), COALESCE(media, ''), created_at
		FROM interviews WHERE id = $1
	`, id).Scan(
		&iv.ID, &iv.OwnerID, &iv.Title, &iv.Objective, &iv.Persona,
		&iv.IntroText, &iv.ClosingText, &iv.QuestionsText,
		&iv.AccountName, &iv.InterviewerName, &iv.Target, &iv.Purpose, &iv.Media, &iv.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &iv, nil
}

// CreateInterview inserts an interview and returns it with its generated ID.
func (s *Store) CreateInterview(ctx context.Context, iv Interview) (*Interview, error) {
	if _, err := interview.ParsePlanSeed(iv.QuestionsText); err != nil {
		return nil, err
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO interviews (
			owner_id, title, objective, persona, intro_text, closing_text, questions_text,
			account_name, interviewer_name, target, purpose, media
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`, iv.OwnerID, iv.Title, iv.Objective, iv.Persona, iv.IntroText, iv.ClosingText, iv.QuestionsText,
		iv.AccountName, iv.InterviewerName, iv.Target, iv.Purpose, iv.Media,
	).Scan(&iv.ID, &iv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &iv, nil
}

// CreateSession records a new session of an interview.
func (s *Store) CreateSession(ctx context.Context, interviewID, sessionID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO interview_sessions (id, interview_id, phase)
		VALUES ($1, $2, $3)
	`, sessionID, interviewID, string(interview.PhaseIdle))
	return err
}

// GetSession loads a session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(ctx, `
		SELECT id, interview_id, phase, started_at, ended_at
		FROM interview_sessions WHERE id = $1
	`, sessionID).Scan(&sess.ID, &sess.InterviewID, &sess.Phase, &sess.StartedAt, &sess.EndedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

// ListSessions returns the most recent sessions of an interview.
func (s *Store) ListSessions(ctx context.Context, interviewID string, limit int) ([]Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, interview_id, phase, started_at, ended_at
		FROM interview_sessions
		WHERE interview_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, interviewID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.InterviewID, &sess.Phase, &sess.StartedAt, &sess.EndedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListStaleSessions returns sessions that never ended and started before cutoff.
func (s *Store) ListStaleSessions(ctx context.Context, startedBefore time.Time) ([]Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, interview_id, phase, started_at, ended_at
		FROM interview_sessions
		WHERE ended_at IS NULL AND started_at < $1
		ORDER BY started_at ASC
		LIMIT 500
	`, startedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.InterviewID, &sess.Phase, &sess.StartedAt, &sess.EndedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// AppendTurn stores a committed turn. Re-sending a sequence number overwrites it.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, t interview.Turn) error {
	var audioRef *string
	if t.AudioRef != "" {
		audioRef = &t.AudioRef
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO session_turns (session_id, sequence, role, content, interrupted, audio_ref, spoken_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, sequence) DO UPDATE SET
			role = EXCLUDED.role,
			content = EXCLUDED.content,
			interrupted = EXCLUDED.interrupted,
			audio_ref = EXCLUDED.audio_ref,
			spoken_at = EXCLUDED.spoken_at
	`, sessionID, t.Sequence, string(t.Role), t.Content, t.Interrupted, audioRef, t.Timestamp)
	return err
}

// UpdateSessionPhase records the session's phase and stamps the end time on terminal phases.
func (s *Store) UpdateSessionPhase(ctx context.Context, sessionID string, phase interview.Phase) error {
	var endedAt *time.Time
	if phase.Terminal() {
		now := time.Now()
		endedAt = &now
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE interview_sessions
		SET phase = $2, ended_at = COALESCE($3, ended_at)
		WHERE id = $1
	`, sessionID, string(phase), endedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetQuestionPlanSeed loads the interview a session belongs to as a plan seed.
func (s *Store) GetQuestionPlanSeed(ctx context.Context, sessionID string) (interview.PlanSeed, error) {
	var interviewID string
	err := s.db.QueryRow(ctx, `
		SELECT interview_id FROM interview_sessions WHERE id = $1
	`, sessionID).Scan(&interviewID)
	if err != nil {
		return interview.PlanSeed{}, fmt.Errorf("session %s: %w", sessionID, notFound(err))
	}
	iv, err := s.GetInterview(ctx, interviewID)
	if err != nil {
		return interview.PlanSeed{}, fmt.Errorf("interview %s: %w", interviewID, err)
	}
	return iv.Seed()
}

// ListTurns returns a session's transcript in order.
func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]interview.Turn, error) {
	rows, err := s.db.Query(ctx, `
		SELECT sequence, role, content, interrupted, audio_ref, spoken_at
		FROM session_turns
		WHERE session_id = $1
		ORDER BY sequence ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []interview.Turn
	for rows.Next() {
		var t interview.Turn
		var role string
		var audioRef *string
		if err := rows.Scan(&t.Sequence, &role, &t.Content, &t.Interrupted, &audioRef, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Role = interview.Role(role)
		t.AudioRef = stringOrDefault(audioRef, "")
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// SessionCosts contains the recorded usage and costs of a session in cents.
type SessionCosts struct {
	SessionID              string    `json:"session_id"`
	STTCostCents           int       `json:"stt_cost_cents"`
	LLMCostCents           int       `json:"llm_cost_cents"`
	TTSCostCents           int       `json:"tts_cost_cents"`
	TotalCostCents         int       `json:"total_cost_cents"`
	SessionDurationSeconds int       `json:"session_duration_seconds"`
	STTDurationSeconds     int       `json:"stt_duration_seconds"`
	LLMInputTokens         int       `json:"llm_input_tokens"`
	LLMOutputTokens        int       `json:"llm_output_tokens"`
	TTSCharacters          int       `json:"tts_characters"`
	CreatedAt              time.Time `json:"created_at"`
}

// RecordSessionCosts saves the cost metrics for a session.
func (s *Store) RecordSessionCosts(ctx context.Context, sessionID string, m costs.SessionMetrics, c costs.SessionCosts) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO session_costs (
			session_id, stt_cost_cents, llm_cost_cents, tts_cost_cents, total_cost_cents,
			session_duration_seconds, stt_duration_seconds, llm_input_tokens, llm_output_tokens, tts_characters
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
			stt_cost_cents = $2, llm_cost_cents = $3, tts_cost_cents = $4, total_cost_cents = $5,
			session_duration_seconds = $6, stt_duration_seconds = $7,
			llm_input_tokens = $8, llm_output_tokens = $9, tts_characters = $10
	`, sessionID, c.STTCostCents, c.LLMCostCents, c.TTSCostCents, c.TotalCostCents,
		m.SessionDurationSeconds, m.STTDurationSeconds, m.LLMInputTokens, m.LLMOutputTokens, m.TTSCharacters)
	return err
}

// GetSessionCosts retrieves the costs for a specific session.
func (s *Store) GetSessionCosts(ctx context.Context, sessionID string) (*SessionCosts, error) {
	var c SessionCosts
	err := s.db.QueryRow(ctx, `
		SELECT session_id, stt_cost_cents, llm_cost_cents, tts_cost_cents, total_cost_cents,
		       COALESCE(session_duration_seconds, 0), COALESCE(stt_duration_seconds, 0),
		       COALESCE(llm_input_tokens, 0), COALESCE(llm_output_tokens, 0),
		       COALESCE(tts_characters, 0), created_at
		FROM session_costs WHERE session_id = $1
	`, sessionID).Scan(
		&c.SessionID, &c.STTCostCents, &c.LLMCostCents, &c.TTSCostCents, &c.TotalCostCents,
		&c.SessionDurationSeconds, &c.STTDurationSeconds,
		&c.LLMInputTokens, &c.LLMOutputTokens, &c.TTSCharacters, &c.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}
