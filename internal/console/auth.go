// Copyright 2025, 2026 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package console

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const sessionCookieName = "topicview_ui_session"

const disabledMessage = "Topic browsing is disabled until TOPICVIEW_UI_USERNAME and TOPICVIEW_UI_PASSWORD are set."

var errBadCredentials = errors.New("invalid credentials")

type AuthConfig struct {
	Username string
	Password string
	// SessionTTL bounds a login; zero means 12h.
	SessionTTL time.Duration
}

// authManager keeps the console's login sessions. A session ends on logout,
// on its first use after expiry, or when the sweeper finds it expired.
type authManager struct {
	enabled  bool
	username string
	password string
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time
	// onEnd is called with the token of every session that ends.
	onEnd func(token string)
}

type authStatus struct {
	Enabled       bool   `json:"enabled"`
	Authenticated bool   `json:"authenticated"`
	Message       string `json:"message,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func newAuthManager(cfg AuthConfig, logger *slog.Logger) *authManager {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &authManager{
		enabled:  cfg.Username != "" && cfg.Password != "",
		username: cfg.Username,
		password: cfg.Password,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]time.Time),
	}
}

// login checks the credentials and opens a session.
func (a *authManager) login(username, password string) (string, time.Time, error) {
	if username == "" || password == "" {
		return "", time.Time{}, errBadCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if !userOK || !passOK {
		return "", time.Time{}, errBadCredentials
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	expiry := a.now().Add(a.ttl)
	a.mu.Lock()
	a.sessions[token] = expiry
	a.mu.Unlock()
	return token, expiry, nil
}

// lookup reports whether token is a live session, ending it if it expired.
func (a *authManager) lookup(token string) bool {
	a.mu.Lock()
	expiry, ok := a.sessions[token]
	a.mu.Unlock()
	if !ok {
		return false
	}
	if a.now().After(expiry) {
		a.end(token)
		return false
	}
	return true
}

func (a *authManager) end(token string) {
	a.mu.Lock()
	_, existed := a.sessions[token]
	delete(a.sessions, token)
	a.mu.Unlock()
	if existed && a.onEnd != nil {
		a.onEnd(token)
	}
}

// sweep ends every expired session and returns how many it ended.
func (a *authManager) sweep() int {
	now := a.now()
	var expired []string
	a.mu.Lock()
	for token, expiry := range a.sessions {
		if now.After(expiry) {
			expired = append(expired, token)
		}
	}
	a.mu.Unlock()
	for _, token := range expired {
		a.end(token)
	}
	return len(expired)
}

func (a *authManager) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sweep(); n > 0 {
				a.logger.Debug("expired ui sessions", "count", n)
			}
		}
	}
}

func (a *authManager) handleConfig(w http.ResponseWriter, _ *http.Request) {
	resp := authStatus{Enabled: a.enabled}
	if !a.enabled {
		resp.Message = disabledMessage
	}
	writeJSON(w, resp)
}

func (a *authManager) handleSession(w http.ResponseWriter, r *http.Request) {
	resp := authStatus{Enabled: a.enabled}
	if !a.enabled {
		resp.Message = disabledMessage
		writeJSON(w, resp)
		return
	}
	if token, ok := sessionToken(r); ok {
		resp.Authenticated = a.lookup(token)
	}
	writeJSON(w, resp)
}

func (a *authManager) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.enabled {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, authStatus{Message: disabledMessage})
		return
	}
	var payload loginRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	token, expiry, err := a.login(payload.Username, payload.Password)
	if errors.Is(err, errBadCredentials) {
		a.logger.Warn("ui login rejected", "remote", r.RemoteAddr)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}
	setSessionCookie(w, r, token, expiry)
	writeJSON(w, authStatus{Enabled: true, Authenticated: true})
}

func (a *authManager) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := sessionToken(r); ok {
		a.end(token)
	}
	setSessionCookie(w, r, "", time.Time{})
	writeJSON(w, authStatus{Enabled: a.enabled})
}

// requireAuth gates next behind a login and hands it the session token.
func (a *authManager) requireAuth(next func(w http.ResponseWriter, r *http.Request, token string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			http.Error(w, "ui auth disabled", http.StatusServiceUnavailable)
			return
		}
		token, ok := sessionToken(r)
		if !ok || !a.lookup(token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, token)
	}
}

// setSessionCookie clears the cookie when token is empty.
func setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiry time.Time) {
	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
		Expires:  expiry,
	}
	if token == "" {
		cookie.MaxAge = -1
	}
	http.SetCookie(w, cookie)
}

func sessionToken(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
