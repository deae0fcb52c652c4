package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"groupchat/internal/models"
)

// APIError is a non-2xx response from the REST surface.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// AuthResult is returned by Signup and Login.
type AuthResult struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// API is a thin client for the REST endpoints. A successful Signup or Login
// stores the token for later calls.
type API struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewAPI creates a client for baseURL (http://host:port). httpClient may be nil.
func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Token returns the bearer token from the last successful auth call.
func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *API) Signup(ctx context.Context, name, email, password string) (AuthResult, error) {
	return a.authenticate(ctx, "/auth/signup", map[string]string{"name": name, "email": email, "password": password})
}

func (a *API) Login(ctx context.Context, email, password string) (AuthResult, error) {
	return a.authenticate(ctx, "/auth/login", map[string]string{"email": email, "password": password})
}

func (a *API) authenticate(ctx context.Context, path string, body any) (AuthResult, error) {
	var res AuthResult
	if err := a.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return AuthResult{}, err
	}
	a.mu.Lock()
	a.token = res.Token
	a.mu.Unlock()
	return res, nil
}

// Conversations lists the caller's conversations.
func (a *API) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	out := []models.ConversationSummary{}
	err := a.do(ctx, http.MethodGet, "/api/conversations", nil, &out)
	return out, err
}

// Messages loads the history of a conversation.
func (a *API) Messages(ctx context.Context, conversationID string) ([]models.MessagePayload, error) {
	out := []models.MessagePayload{}
	err := a.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &out)
	return out, err
}

// PendingInvitations lists unexpired invitations for the caller.
func (a *API) PendingInvitations(ctx context.Context) ([]models.Invitation, error) {
	out := []models.Invitation{}
	err := a.do(ctx, http.MethodGet, "/api/invitations/pending", nil, &out)
	return out, err
}

// RespondInvitation accepts or declines an invitation.
func (a *API) RespondInvitation(ctx context.Context, invitationID string, accept bool) error {
	return a.do(ctx, http.MethodPost, "/api/invitations/"+url.PathEscape(invitationID)+"/respond", map[string]bool{"accept": accept}, nil)
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
