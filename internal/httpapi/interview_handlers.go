package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lukasbauer/interviewer/internal/interview"
	"github.com/lukasbauer/interviewer/internal/store"
)

// ownedInterview loads an interview and checks that the caller owns it.
// It writes the error response and returns nil when the check fails.
func (r *Router) ownedInterview(w http.ResponseWriter, req *http.Request, id string) *store.Interview {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return nil
	}

	iv, err := r.store.GetInterview(req.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, `{"error": "interview not found"}`, http.StatusNotFound)
		return nil
	}
	if err != nil {
		r.logger.Printf("api: failed to load interview %s: %v", id, err)
		captureError(req, err, "api: load interview")
		http.Error(w, `{"error": "failed to load interview"}`, http.StatusInternalServerError)
		return nil
	}

	// Report someone else's interview as missing rather than forbidden.
	if iv.OwnerID != user.ID {
		http.Error(w, `{"error": "interview not found"}`, http.StatusNotFound)
		return nil
	}
	return iv
}

func (r *Router) handleCreateInterview(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body struct {
		Title           string  `json:"title"`
		Objective       string  `json:"objective"`
		Persona         string  `json:"persona"`
		IntroText       *string `json:"intro_text"`
		ClosingText     *string `json:"closing_text"`
		Questions       string  `json:"questions"`
		AccountName     string  `json:"account_name"`
		InterviewerName string  `json:"interviewer_name"`
		Target          string  `json:"target"`
		Purpose         string  `json:"purpose"`
		Media           string  `json:"media"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Title) == "" {
		http.Error(w, `{"error": "title is required"}`, http.StatusBadRequest)
		return
	}

	// Validate the question list before it reaches the database.
	if _, err := interview.ParsePlanSeed(body.Questions); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid questions: " + err.Error()})
		return
	}

	iv, err := r.store.CreateInterview(req.Context(), store.Interview{
		OwnerID:         user.ID,
		Title:           strings.TrimSpace(body.Title),
		Objective:       body.Objective,
		Persona:         body.Persona,
		IntroText:       body.IntroText,
		ClosingText:     body.ClosingText,
		QuestionsText:   body.Questions,
		AccountName:     body.AccountName,
		InterviewerName: body.InterviewerName,
		Target:          body.Target,
		Purpose:         body.Purpose,
		Media:           body.Media,
	})
	if err != nil {
		r.logger.Printf("api: failed to create interview: %v", err)
		captureError(req, err, "api: create interview")
		http.Error(w, `{"error": "failed to create interview"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("api: interview %s created by user %s", iv.ID, user.ID)
	writeJSON(w, http.StatusCreated, iv)
}

func (r *Router) handleGetInterview(w http.ResponseWriter, req *http.Request) {
	iv := r.ownedInterview(w, req, req.PathValue("id"))
	if iv == nil {
		return
	}

	seed, err := iv.Seed()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"interview": iv, "seed_error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interview": iv, "questions": seed.Questions, "intro": seed.Intro})
}

// handleCreateJoinToken mints a respondent link for an interview.
func (r *Router) handleCreateJoinToken(w http.ResponseWriter, req *http.Request) {
	iv := r.ownedInterview(w, req, req.PathValue("id"))
	if iv == nil {
		return
	}

	token, expiresAt, err := r.generateJoinToken(iv.ID)
	if err != nil {
		r.logger.Printf("api: failed to sign join token: %v", err)
		http.Error(w, `{"error": "failed to create join token"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt,
		"ws_url":     wsURLFromPublicBase(r.cfg.PublicBaseURL) + "/interviews/" + url.PathEscape(iv.ID) + "/ws?token=" + url.QueryEscape(token),
	})
}

func (r *Router) handleListSessions(w http.ResponseWriter, req *http.Request) {
	iv := r.ownedInterview(w, req, req.PathValue("id"))
	if iv == nil {
		return
	}

	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	sessions, err := r.store.ListSessions(req.Context(), iv.ID, limit)
	if err != nil {
		r.logger.Printf("api: failed to list sessions: %v", err)
		http.Error(w, `{"error": "failed to list sessions"}`, http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (r *Router) handleGetTranscript(w http.ResponseWriter, req *http.Request) {
	sess, err := r.store.GetSession(req.Context(), req.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		r.logger.Printf("api: failed to load session: %v", err)
		http.Error(w, `{"error": "failed to load session"}`, http.StatusInternalServerError)
		return
	}
	if r.ownedInterview(w, req, sess.InterviewID) == nil {
		return
	}

	// A live session answers from memory; the journal may lag behind.
	if live, ok := r.sessions.Get(sess.ID); ok {
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "phase": live.Phase(), "turns": live.Transcript()})
		return
	}

	turns, err := r.store.ListTurns(req.Context(), sess.ID)
	if err != nil {
		r.logger.Printf("api: failed to list turns: %v", err)
		http.Error(w, `{"error": "failed to load transcript"}`, http.StatusInternalServerError)
		return
	}
	if turns == nil {
		turns = []interview.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "phase": sess.Phase, "turns": turns})
}

func wsURLFromPublicBase(publicBase string) string {
	// http://x -> ws://x
	// https://x -> wss://x
	if strings.HasPrefix(publicBase, "https://") {
		return "wss://" + strings.TrimPrefix(publicBase, "https://")
	}
	if strings.HasPrefix(publicBase, "http://") {
		return "ws://" + strings.TrimPrefix(publicBase, "http://")
	}
	// assume already host[:port]
	return "wss://" + publicBase
}
