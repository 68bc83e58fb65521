// ABOUTME: REST API handlers for session listing, event history, and uploads
// ABOUTME: Serves /api/sessions and /api/upload beside the websocket endpoint

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/relay-gateway/internal/store"
	"github.com/2389/relay-gateway/internal/workspace"
)

// SessionResponse is one session in the device listing
type SessionResponse struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	DeviceID        string     `json:"device_id"`
	WorkspacePath   string     `json:"workspace_path"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	LastActivatedAt time.Time  `json:"last_activated_at"`
	DeactivatedAt   *time.Time `json:"deactivated_at,omitempty"`
	FirstMessage    string     `json:"first_message"`
}

// ListSessionsResponse wraps the device session listing
type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// EventResponse is one event in a session's history
type EventResponse struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Content   json.RawMessage `json:"content"`
}

// ListEventsResponse wraps a session's event history
type ListEventsResponse struct {
	SessionID string          `json:"session_id"`
	Events    []EventResponse `json:"events"`
}

// UploadRequest is the POST /api/upload body
type UploadRequest struct {
	SessionID string `json:"session_id"`
	File      struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	} `json:"file"`
}

// UploadResponse reports where an upload landed
type UploadResponse struct {
	Message string `json:"message"`
	File    struct {
		Path      string `json:"path"`
		SavedPath string `json:"saved_path"`
	} `json:"file"`
}

// handleListSessions handles GET /api/sessions/{device_id}.
// Sessions are returned newest first, each augmented with the text of its
// earliest user message (empty if the session has none).
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	sessions, err := g.store.ListSessionsByDevice(r.Context(), deviceID)
	if err != nil {
		g.logger.Error("listing sessions", "device_id", deviceID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ListSessionsResponse{Sessions: make([]SessionResponse, 0, len(sessions))}
	for _, sess := range sessions {
		first, err := g.firstUserMessage(r, sess.Key)
		if err != nil {
			g.logger.Error("loading first message", "session_key", sess.Key, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		response.Sessions = append(response.Sessions, SessionResponse{
			ID:              sess.Key,
			UserID:          sess.UserID,
			DeviceID:        sess.DeviceID,
			WorkspacePath:   sess.WorkspacePath,
			IsActive:        sess.IsActive,
			CreatedAt:       sess.CreatedAt,
			LastActivatedAt: sess.LastActivatedAt,
			DeactivatedAt:   sess.DeactivatedAt,
			FirstMessage:    first,
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// firstUserMessage returns the text of the session's earliest user_message
// event, or "" if there is none.
func (g *Gateway) firstUserMessage(r *http.Request, sessionKey string) (string, error) {
	events, err := g.store.ListEvents(r.Context(), sessionKey, store.ListEventsOptions{
		Type:  "user_message",
		Limit: 1,
	})
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "", nil
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(events[0].Payload), &payload); err != nil {
		return "", nil // unreadable payload is not worth failing the listing
	}
	return payload.Text, nil
}

// handleListEvents handles GET /api/sessions/{session_id}/events.
// Events are returned in ascending order, matching insertion order.
func (g *Gateway) handleListEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	events, err := g.store.ListEvents(r.Context(), sessionID, store.ListEventsOptions{})
	if err != nil {
		g.logger.Error("listing events", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ListEventsResponse{
		SessionID: sessionID,
		Events:    make([]EventResponse, 0, len(events)),
	}
	for _, ev := range events {
		response.Events = append(response.Events, EventResponse{
			ID:        ev.ID,
			Type:      ev.Type,
			Timestamp: ev.Timestamp,
			Content:   json.RawMessage(ev.Payload),
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// handleUpload handles POST /api/upload.
// The upload lands under the session's recorded workspace; unknown sessions
// get 404, name collisions get a numeric suffix.
func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.SessionID == "" || req.File.Path == "" {
		g.sendJSONError(w, http.StatusBadRequest, "session_id and file.path are required")
		return
	}

	sess, err := g.store.GetSession(r.Context(), req.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("loading session for upload", "session_id", req.SessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	ws := workspace.Open(sess.WorkspacePath)
	saved, err := ws.SaveUpload(req.File.Path, req.File.Content)
	if err != nil {
		g.logger.Error("saving upload", "session_id", req.SessionID, "error", err)
		g.sendJSONError(w, http.StatusBadRequest, "failed to save file")
		return
	}

	var response UploadResponse
	response.Message = "File uploaded successfully"
	response.File.Path = "/" + workspace.UploadDirName + "/" + saved
	response.File.SavedPath = ws.UploadPath(saved)

	writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error body with the given status
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
