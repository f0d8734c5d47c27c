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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestAuth(t *testing.T, now *time.Time) (*authManager, *[]string) {
	t.Helper()
	a := newAuthManager(AuthConfig{Username: "user", Password: "pass", SessionTTL: time.Minute}, nil)
	a.now = func() time.Time { return *now }
	var ended []string
	a.onEnd = func(token string) { ended = append(ended, token) }
	return a, &ended
}

func TestAuthLoginRejectsBadCredentials(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, _ := newTestAuth(t, &now)
	for _, creds := range [][2]string{{"user", "nope"}, {"", "pass"}, {"other", "pass"}} {
		if _, _, err := a.login(creds[0], creds[1]); err != errBadCredentials {
			t.Fatalf("login(%q, %q): expected errBadCredentials, got %v", creds[0], creds[1], err)
		}
	}
}

func TestAuthSessionExpiresOnUse(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, ended := newTestAuth(t, &now)
	token, expiry, err := a.login("user", "pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !expiry.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry %v", expiry)
	}
	if !a.lookup(token) {
		t.Fatalf("expected fresh session to be valid")
	}
	now = now.Add(2 * time.Minute)
	if a.lookup(token) {
		t.Fatalf("expected expired session to be rejected")
	}
	if len(*ended) != 1 || (*ended)[0] != token {
		t.Fatalf("expected onEnd for the expired token, got %v", *ended)
	}
}

func TestAuthSweepEndsExpiredSessions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, ended := newTestAuth(t, &now)
	old, _, _ := a.login("user", "pass")
	now = now.Add(45 * time.Second)
	fresh, _, _ := a.login("user", "pass")
	now = now.Add(30 * time.Second)

	if n := a.sweep(); n != 1 {
		t.Fatalf("expected one expired session, got %d", n)
	}
	if len(*ended) != 1 || (*ended)[0] != old {
		t.Fatalf("expected only the old session to end, got %v", *ended)
	}
	if !a.lookup(fresh) {
		t.Fatalf("expected the fresh session to survive the sweep")
	}
}

func TestAuthLogoutClearsCookie(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, ended := newTestAuth(t, &now)
	token, _, _ := a.login("user", "pass")

	req := httptest.NewRequest(http.MethodPost, "/ui/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	a.handleLogout(rec, req)

	if len(*ended) != 1 {
		t.Fatalf("expected logout to end the session")
	}
	if cookie := rec.Header().Get("Set-Cookie"); !strings.Contains(cookie, "Max-Age=0") {
		t.Fatalf("expected cookie to be cleared, got %q", cookie)
	}
}

func TestAuthDisabledLogin(t *testing.T) {
	a := newAuthManager(AuthConfig{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/ui/api/auth/login", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	a.handleLogin(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "TOPICVIEW_UI_USERNAME") {
		t.Fatalf("expected the disabled message, got %s", rec.Body.String())
	}
}
