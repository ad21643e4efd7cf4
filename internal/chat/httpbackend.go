package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/models"
)

// HTTPBackend talks to the coach server's JSON API with bearer auth.
type HTTPBackend struct {
	baseURL   string
	authToken string
	client    *http.Client
}

func NewHTTPBackend(baseURL, authToken string) *HTTPBackend {
	return &HTTPBackend{
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Login exchanges credentials for a backend bound to the issued token.
func Login(ctx context.Context, baseURL, email, password string) (*HTTPBackend, error) {
	b := &HTTPBackend{baseURL: baseURL, client: &http.Client{Timeout: 30 * time.Second}}
	var resp struct {
		AuthToken string `json:"auth_token"`
	}
	if err := b.doJSON(ctx, http.MethodPost, "/api/users/login",
		map[string]string{"email": email, "password": password}, &resp); err != nil {
		return nil, err
	}
	b.authToken = resp.AuthToken
	b.client.Timeout = 2 * time.Minute
	return b, nil
}

// Register creates an account. Call Login afterwards for a usable backend.
func Register(ctx context.Context, baseURL, email, name, password string) error {
	b := &HTTPBackend{baseURL: baseURL, client: &http.Client{Timeout: 30 * time.Second}}
	return b.doJSON(ctx, http.MethodPost, "/api/users/register",
		map[string]string{"email": email, "name": name, "password": password}, nil)
}

func (b *HTTPBackend) SendMessage(ctx context.Context, sessionID, message string) (*SendResult, error) {
	var resp struct {
		Message       string `json:"message"`
		SessionID     string `json:"sessionId"`
		MessageID     string `json:"messageId"`
		UserMessageID string `json:"userMessageId"`
		IsNewSession  bool   `json:"isNewSession"`
	}
	err := b.doJSON(ctx, http.MethodPost, "/api/chat",
		map[string]string{"message": message, "sessionId": sessionID}, &resp)
	if err != nil {
		return nil, err
	}
	return &SendResult{
		Reply:         resp.Message,
		SessionID:     resp.SessionID,
		MessageID:     resp.MessageID,
		UserMessageID: resp.UserMessageID,
		IsNewSession:  resp.IsNewSession,
	}, nil
}

func (b *HTTPBackend) CreateSession(ctx context.Context, title string) (string, error) {
	var resp struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	if err := b.doJSON(ctx, http.MethodPost, "/api/sessions",
		map[string]string{"title": title}, &resp); err != nil {
		return "", err
	}
	return resp.Session.ID, nil
}

func (b *HTTPBackend) History(ctx context.Context, sessionID string) ([]Message, error) {
	var resp struct {
		Messages []Message `json:"messages"`
	}
	path := "/api/chat?sessionId=" + url.QueryEscape(sessionID)
	if err := b.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (b *HTTPBackend) UpdateMessage(ctx context.Context, messageID, content string) error {
	return b.doJSON(ctx, http.MethodPatch, "/api/chat",
		map[string]string{"messageId": messageID, "content": content}, nil)
}

func (b *HTTPBackend) DeleteMessage(ctx context.Context, messageID string) error {
	path := "/api/chat?messageId=" + url.QueryEscape(messageID)
	return b.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (b *HTTPBackend) TrialStatus(ctx context.Context) (*models.TrialStatus, error) {
	var status models.TrialStatus
	if err := b.doJSON(ctx, http.MethodGet, "/api/user/trial-status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListSessions returns the user's session directory.
func (b *HTTPBackend) ListSessions(ctx context.Context, search string) ([]*models.Session, error) {
	path := "/api/sessions"
	if search != "" {
		path += "?search=" + url.QueryEscape(search)
	}
	var resp struct {
		Sessions []*models.Session `json:"sessions"`
	}
	if err := b.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (b *HTTPBackend) DeleteSession(ctx context.Context, sessionID string) error {
	return b.doJSON(ctx, http.MethodDelete, "/api/sessions?sessionId="+url.QueryEscape(sessionID), nil, nil)
}

func (b *HTTPBackend) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.authToken)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusForbidden {
			return ErrTrialExhausted
		}
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
