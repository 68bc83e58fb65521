// ABOUTME: HTTP tests for the session listing, event history, and upload endpoints
// ABOUTME: Exercises the REST surface against a real SQLite-backed store

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/store"
	"github.com/2389/relay-gateway/internal/workspace"
)

// seedSession creates a session row with a real workspace directory
func seedSession(t *testing.T, tg *testGateway, userID, deviceID string) *store.Session {
	t.Helper()

	ws, wsID, err := workspace.Provision(filepath.Join(t.TempDir(), "workspaces"))
	require.NoError(t, err)

	sess := &store.Session{
		Key:           userID + "_" + deviceID,
		UserID:        userID,
		DeviceID:      deviceID,
		WorkspaceID:   wsID,
		WorkspacePath: ws.Root,
	}
	require.NoError(t, tg.store.CreateOrReactivateSession(context.Background(), sess))
	return sess
}

func appendEvent(t *testing.T, tg *testGateway, sess *store.Session, evType, payload string) {
	t.Helper()
	_, err := tg.store.AppendEvent(context.Background(), &store.Event{
		SessionKey: sess.Key,
		UserID:     sess.UserID,
		DeviceID:   sess.DeviceID,
		Type:       evType,
		Payload:    payload,
	})
	require.NoError(t, err)
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestListSessions(t *testing.T) {
	tg := setupGateway(t, &fakeResolver{userID: "u1"}, nil, nil)

	s1 := seedSession(t, tg, "u1", "dev1")
	appendEvent(t, tg, s1, "user_message", `{"text":"hello from dev1"}`)
	appendEvent(t, tg, s1, "agent_response", `{"text":"hi"}`)

	s2 := seedSession(t, tg, "u2", "dev1")
	// s2 has no user_message; first_message must come back empty

	var got ListSessionsResponse
	status := getJSON(t, tg.server.URL+"/api/sessions/dev1", &got)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, got.Sessions, 2)

	byID := map[string]SessionResponse{}
	for _, s := range got.Sessions {
		byID[s.ID] = s
	}
	require.Contains(t, byID, s1.Key)
	require.Contains(t, byID, s2.Key)
	assert.Equal(t, "hello from dev1", byID[s1.Key].FirstMessage)
	assert.Equal(t, "", byID[s2.Key].FirstMessage)
	assert.Equal(t, "u1", byID[s1.Key].UserID)
	assert.True(t, byID[s1.Key].IsActive)
}

func TestListSessions_UnreadablePayloadIsNotFatal(t *testing.T) {
	tg := setupGateway(t, &fakeResolver{userID: "u1"}, nil, nil)

	sess := seedSession(t, tg, "u1", "dev1")
	appendEvent(t, tg, sess, "user_message", "not json at all")

	var got ListSessionsResponse
	status := getJSON(t, tg.server.URL+"/api/sessions/dev1", &got)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, "", got.Sessions[0].FirstMessage)
}

func TestListSessions_UnknownDevice(t *testing.T) {
	tg := setupGateway(t, &fakeResolver{userID: "u1"}, nil, nil)

	var got ListSessionsResponse
	status := getJSON(t, tg.server.URL+"/api/sessions/nobody", &got)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, got.Sessions)
}

func TestListEvents(t *testing.T) {
	tg := setupGateway(t, &fakeResolver{userID: "u1"}, nil, nil)

	sess := seedSession(t, tg, "u1", "dev1")
	appendEvent(t, tg, sess, "user_message", `{"text":"q1"}`)
	appendEvent(t, tg, sess, "agent_thinking", `{"text":"hmm"}`)
	appendEvent(t, tg, sess, "agent_response", `{"text":"a1"}`)

	var got ListEventsResponse
	status := getJSON(t, tg.server.URL+"/api/sessions/"+sess.Key+"/events", &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, sess.Key, got.SessionID)
	require.Len(t, got.Events, 3)

	// Insertion order, ascending
	assert.Equal(t, "user_message", got.Events[0].Type)
	assert.Equal(t, "agent_thinking", got.Events[1].Type)
	assert.Equal(t, "agent_response", got.Events[2].Type)
	assert.JSONEq(t, `{"text":"q1"}`, string(got.Events[0].Content))
}

func TestListEvents_EmptySession(t *testing.T) {
	tg := setupGateway(t, &fakeResolver{userID: "u1"}, nil, nil)

	var got ListEventsResponse
	status := getJSON(t, tg.server.URL+"/api/sessions/u1_devx/events", &got)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, got.Events)
}

func TestUpload(t *testing.T) {
	tg := setupGateway(t, &fakeResolver{userID: "u1"}, nil, nil)
	sess := seedSession(t, tg, "u1", "dev1")

	req := UploadRequest{SessionID: sess.Key}
	req.File.Path = "notes.txt"
	req.File.Content = "hello upload"

	var got UploadResponse
	status := postJSON(t, tg.server.URL+"/api/upload", req, &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "File uploaded successfully", got.Message)
	assert.Equal(t, "/uploads/notes.txt", got.File.Path)

	data, err := os.ReadFile(got.File.SavedPath)
	require.NoError(t, err)
	assert.Equal(t, "hello upload", string(data))
}

func TestUpload_NameCollision(t *testing.T) {
	tg := setupGateway(t, &fakeResolver{userID: "u1"}, nil, nil)
	sess := seedSession(t, tg, "u1", "dev1")

	req := UploadRequest{SessionID: sess.Key}
	req.File.Path = "notes.txt"
	req.File.Content = "first"
	require.Equal(t, http.StatusOK, postJSON(t, tg.server.URL+"/api/upload", req, nil))

	req.File.Content = "second"
	var got UploadResponse
	require.Equal(t, http.StatusOK, postJSON(t, tg.server.URL+"/api/upload", req, &got))

	// The collision gets a numeric suffix instead of overwriting
	assert.NotEqual(t, "/uploads/notes.txt", got.File.Path)
	data, err := os.ReadFile(got.File.SavedPath)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestUpload_UnknownSession(t *testing.T) {
	tg := setupGateway(t, &fakeResolver{userID: "u1"}, nil, nil)

	req := UploadRequest{SessionID: "nobody_nowhere"}
	req.File.Path = "notes.txt"
	req.File.Content = "x"

	status := postJSON(t, tg.server.URL+"/api/upload", req, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUpload_BadRequests(t *testing.T) {
	tg := setupGateway(t, &fakeResolver{userID: "u1"}, nil, nil)
	sess := seedSession(t, tg, "u1", "dev1")

	t.Run("invalid json", func(t *testing.T) {
		resp, err := http.Post(tg.server.URL+"/api/upload", "application/json", bytes.NewReader([]byte("{nope")))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing session_id", func(t *testing.T) {
		req := UploadRequest{}
		req.File.Path = "notes.txt"
		assert.Equal(t, http.StatusBadRequest, postJSON(t, tg.server.URL+"/api/upload", req, nil))
	})

	t.Run("missing file path", func(t *testing.T) {
		req := UploadRequest{SessionID: sess.Key}
		assert.Equal(t, http.StatusBadRequest, postJSON(t, tg.server.URL+"/api/upload", req, nil))
	})

	t.Run("path escape rejected", func(t *testing.T) {
		req := UploadRequest{SessionID: sess.Key}
		req.File.Path = "../../etc/passwd"
		req.File.Content = "x"
		assert.Equal(t, http.StatusBadRequest, postJSON(t, tg.server.URL+"/api/upload", req, nil))
	})
}

func TestHealth(t *testing.T) {
	tg := setupGateway(t, &fakeResolver{userID: "u1"}, nil, nil)

	var got map[string]any
	status := getJSON(t, tg.server.URL+"/health", &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, float64(0), got["connections"])

	tg.connect(t, "dev1")

	require.Eventually(t, func() bool {
		var h map[string]any
		getJSON(t, tg.server.URL+"/health", &h)
		return h["connections"] == float64(1)
	}, 2*time.Second, 10*time.Millisecond)
}
