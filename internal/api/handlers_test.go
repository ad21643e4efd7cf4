package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/auth"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/coach"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/config"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/models"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/service/assistant"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/storage"
)

type scriptedModel struct {
	reply string
	err   error
}

func (s *scriptedModel) ModelName() string { return "scripted" }

func (s *scriptedModel) Reply(_ context.Context, _ []*models.Message, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *scriptedModel) Title(context.Context, []*models.Message) (string, error) {
	return "", errors.New("not scripted")
}

type testEnv struct {
	router    *gin.Engine
	assistant *assistant.Service
	db        *sql.DB
	token     string
	userID    string
}

func newTestEnv(t *testing.T, trialLimit int, model *scriptedModel) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	asst := assistant.NewService(db)
	authSvc := auth.NewService(db, nil, time.Hour)
	manager := coach.NewManager(asst, model, nil)
	handler := NewHandler(asst, authSvc, manager, trialLimit)

	router := gin.New()
	handler.RegisterRoutes(router)

	env := &testEnv{router: router, assistant: asst, db: db}
	env.registerAndLogin(t)
	return env
}

func (e *testEnv) registerAndLogin(t *testing.T) {
	t.Helper()
	email := fmt.Sprintf("api_%d@example.com", time.Now().UnixNano())
	body := map[string]string{"email": email, "password": "pass123", "name": "API Tester"}

	w := e.doJSON(t, http.MethodPost, "/api/users/register", body, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", w.Code, w.Body.String())
	}
	var registered struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &registered); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	e.userID = registered.ID

	w = e.doJSON(t, http.MethodPost, "/api/users/login", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", w.Code, w.Body.String())
	}
	var logged struct {
		AuthToken string `json:"auth_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &logged); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if logged.AuthToken == "" {
		t.Fatalf("login returned empty token")
	}
	e.token = logged.AuthToken
}

func (e *testEnv) doJSON(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, 10, &scriptedModel{reply: "ok"})
	w := env.doJSON(t, http.MethodGet, "/api/user/trial-status", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestChatSendRepairsVanishedSession(t *testing.T) {
	env := newTestEnv(t, 10, &scriptedModel{reply: "try timeboxing your standups"})

	w := env.doJSON(t, http.MethodPost, "/api/chat",
		map[string]string{"message": "Our standups run long", "sessionId": "deleted-session"}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("chat returned %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Message       string `json:"message"`
		SessionID     string `json:"sessionId"`
		MessageID     string `json:"messageId"`
		UserMessageID string `json:"userMessageId"`
		IsNewSession  bool   `json:"isNewSession"`
	}
	decodeBody(t, w, &resp)
	if !resp.IsNewSession || resp.SessionID == "deleted-session" {
		t.Fatalf("expected silent replacement session, got %+v", resp)
	}
	if resp.Message != "try timeboxing your standups" {
		t.Fatalf("unexpected assistant message: %q", resp.Message)
	}
	if resp.MessageID == "" || resp.UserMessageID == "" {
		t.Fatalf("message ids missing: %+v", resp)
	}

	w = env.doJSON(t, http.MethodGet, "/api/chat?sessionId="+resp.SessionID, nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("history returned %d: %s", w.Code, w.Body.String())
	}
	var history struct {
		Messages []struct {
			ID      string `json:"id"`
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	decodeBody(t, w, &history)
	if len(history.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history.Messages))
	}
	if history.Messages[0].Role != "user" || history.Messages[1].Role != "assistant" {
		t.Fatalf("roles not lowercased in order: %+v", history.Messages)
	}
}

func TestTrialGatingIsServerAuthoritative(t *testing.T) {
	env := newTestEnv(t, 2, &scriptedModel{reply: "answer"})

	session := env.createSession(t)
	for i := 0; i < 2; i++ {
		w := env.doJSON(t, http.MethodPost, "/api/chat",
			map[string]string{"message": fmt.Sprintf("question %d", i), "sessionId": session}, env.token)
		if w.Code != http.StatusOK {
			t.Fatalf("send %d returned %d: %s", i, w.Code, w.Body.String())
		}
	}

	w := env.doJSON(t, http.MethodGet, "/api/user/trial-status", nil, env.token)
	var status models.TrialStatus
	decodeBody(t, w, &status)
	if status.MessagesSent != 2 || status.RemainingMessages != 0 || !status.HasReachedLimit {
		t.Fatalf("unexpected trial status after spending the trial: %+v", status)
	}

	w = env.doJSON(t, http.MethodPost, "/api/chat",
		map[string]string{"message": "one more", "sessionId": session}, env.token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on exhausted trial, got %d: %s", w.Code, w.Body.String())
	}

	msgs, err := env.assistant.GetSessionMessages(context.Background(), session)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("rejected send must not persist, found %d messages", len(msgs))
	}
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	w := e.doJSON(t, http.MethodPost, "/api/sessions", map[string]string{}, e.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session returned %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Session models.Session `json:"session"`
	}
	decodeBody(t, w, &resp)
	return resp.Session.ID
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t, 10, &scriptedModel{reply: "ok"})

	w := env.doJSON(t, http.MethodPost, "/api/chat",
		map[string]string{"message": "   ", "sessionId": "s"}, env.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank message should 400, got %d", w.Code)
	}
	w = env.doJSON(t, http.MethodPost, "/api/chat",
		map[string]string{"message": "hello"}, env.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing sessionId should 400, got %d", w.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, 10, &scriptedModel{reply: "answer"})

	sessionID := env.createSession(t)

	newTitle := "Sprint 12 planning"
	w := env.doJSON(t, http.MethodPatch, "/api/sessions",
		map[string]interface{}{"sessionId": sessionID, "title": newTitle, "isPinned": true}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("update session returned %d: %s", w.Code, w.Body.String())
	}
	var updated struct {
		Session models.Session `json:"session"`
	}
	decodeBody(t, w, &updated)
	if updated.Session.Title != newTitle || !updated.Session.IsPinned {
		t.Fatalf("update not applied: %+v", updated.Session)
	}

	w = env.doJSON(t, http.MethodGet, "/api/sessions", nil, env.token)
	var listed struct {
		Sessions []models.Session `json:"sessions"`
	}
	decodeBody(t, w, &listed)
	if len(listed.Sessions) != 1 || listed.Sessions[0].ID != sessionID {
		t.Fatalf("unexpected session list: %+v", listed.Sessions)
	}

	w = env.doJSON(t, http.MethodDelete, "/api/sessions?sessionId="+sessionID, nil, env.token)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete session returned %d", w.Code)
	}
	w = env.doJSON(t, http.MethodDelete, "/api/sessions", nil, env.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("delete without sessionId should 400, got %d", w.Code)
	}
	w = env.doJSON(t, http.MethodGet, "/api/sessions/"+sessionID, nil, env.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("deleted session should 404, got %d", w.Code)
	}
}

func TestSessionSearchEndpoint(t *testing.T) {
	env := newTestEnv(t, 10, &scriptedModel{reply: "answer"})

	w := env.doJSON(t, http.MethodPost, "/api/sessions",
		map[string]string{"title": "Velocity deep dive"}, env.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session returned %d", w.Code)
	}
	env.createSession(t)

	w = env.doJSON(t, http.MethodGet, "/api/sessions?search=velocity", nil, env.token)
	var listed struct {
		Sessions []models.Session `json:"sessions"`
	}
	decodeBody(t, w, &listed)
	if len(listed.Sessions) != 1 || listed.Sessions[0].Title != "Velocity deep dive" {
		t.Fatalf("search results wrong: %+v", listed.Sessions)
	}
}

func TestMessageEditAndDelete(t *testing.T) {
	env := newTestEnv(t, 10, &scriptedModel{reply: "answer"})

	session := env.createSession(t)
	w := env.doJSON(t, http.MethodPost, "/api/chat",
		map[string]string{"message": "first draft", "sessionId": session}, env.token)
	var sent struct {
		UserMessageID string `json:"userMessageId"`
		MessageID     string `json:"messageId"`
	}
	decodeBody(t, w, &sent)

	w = env.doJSON(t, http.MethodPatch, "/api/chat",
		map[string]string{"messageId": sent.UserMessageID, "content": "second draft"}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("edit returned %d: %s", w.Code, w.Body.String())
	}
	var edited struct {
		Data models.Message `json:"data"`
	}
	decodeBody(t, w, &edited)
	if edited.Data.Content != "second draft" || !edited.Data.IsEdited {
		t.Fatalf("edit not reflected: %+v", edited.Data)
	}

	w = env.doJSON(t, http.MethodDelete, "/api/chat?messageId="+sent.MessageID, nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("delete returned %d: %s", w.Code, w.Body.String())
	}
	msgs, _ := env.assistant.GetSessionMessages(context.Background(), session)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after delete, got %d", len(msgs))
	}
}

func TestFolderEndpoints(t *testing.T) {
	env := newTestEnv(t, 10, &scriptedModel{reply: "answer"})

	w := env.doJSON(t, http.MethodPost, "/api/folders",
		map[string]string{"name": "Retro notes", "color": "#ff8800"}, env.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create folder returned %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Folder models.Folder `json:"folder"`
	}
	decodeBody(t, w, &created)

	w = env.doJSON(t, http.MethodPatch, "/api/folders/"+created.Folder.ID,
		map[string]string{"name": "Retro archive"}, env.token)
	if w.Code != http.StatusNoContent {
		t.Fatalf("update folder returned %d: %s", w.Code, w.Body.String())
	}

	w = env.doJSON(t, http.MethodGet, "/api/folders", nil, env.token)
	var listed struct {
		Folders []models.Folder `json:"folders"`
	}
	decodeBody(t, w, &listed)
	if len(listed.Folders) != 1 || listed.Folders[0].Name != "Retro archive" {
		t.Fatalf("folder listing wrong: %+v", listed.Folders)
	}

	w = env.doJSON(t, http.MethodDelete, "/api/folders/"+created.Folder.ID, nil, env.token)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete folder returned %d", w.Code)
	}
}

func TestSessionStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, 10, &scriptedModel{reply: "short answer"})

	session := env.createSession(t)
	w := env.doJSON(t, http.MethodPost, "/api/chat",
		map[string]string{"message": "how do story points work", "sessionId": session}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("chat returned %d", w.Code)
	}

	w = env.doJSON(t, http.MethodGet, "/api/sessions/stats?sessionId="+session, nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("stats returned %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Stats assistant.SessionStats `json:"stats"`
	}
	decodeBody(t, w, &resp)
	if resp.Stats.TotalMessages != 2 || resp.Stats.UserMessages != 1 || resp.Stats.AssistantMessages != 1 {
		t.Fatalf("unexpected stats: %+v", resp.Stats)
	}
}
