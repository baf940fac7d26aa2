package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of session event
type EventType string

const (
	EventSessionStarted       EventType = "session_started"
	EventPhaseChanged         EventType = "phase_changed"
	EventMicCheckPassed       EventType = "mic_check_passed"
	EventMicCheckFailed       EventType = "mic_check_failed"
	EventTurnCommitted        EventType = "turn_committed"
	EventQuestionStarted      EventType = "question_started"
	EventBargeIn              EventType = "barge_in"
	EventEndpointFired        EventType = "endpoint_fired"
	EventRepeatRequested      EventType = "repeat_requested"
	EventReactionPlayed       EventType = "reaction_played"
	EventEvaluationCompleted  EventType = "evaluation_completed"
	EventFollowUpInserted     EventType = "follow_up_inserted"
	EventFollowUpLimited      EventType = "follow_up_limited"
	EventStopIntent           EventType = "stop_intent"
	EventRecognitionError     EventType = "recognition_error"
	EventRecognitionRestarted EventType = "recognition_restarted"
	EventTTSError             EventType = "tts_error"
	EventPaused               EventType = "paused"
	EventResumed              EventType = "resumed"
	EventUserError            EventType = "user_error"
	EventSessionEnded         EventType = "session_ended"
)

// Event is a stored session event.
type Event struct {
	ID        int64           `json:"id"`
	Type      EventType       `json:"event_type"`
	Data      json.RawMessage `json:"event_data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || sessionID == "" {
		return nil // Silently skip if no DB or session ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil || data == nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO session_events (session_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, sessionID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(sessionID string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || sessionID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, sessionID, eventType, data)
	}()
}

// List returns a session's events in the order they were written.
func (l *Logger) List(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := l.db.Query(ctx, `
		SELECT id, event_type, event_data, created_at
		FROM session_events
		WHERE session_id = $1
		ORDER BY id ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &typ, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		events = append(events, e)
	}
	return events, rows.Err()
}
