package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

type testServer struct {
	*httptest.Server
	logins   atomic.Int32
	password string
}

// newTestServer stands in for the YunoHost API: POST /login issues the
// session cookie, everything else requires it.
func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *testServer {
	t.Helper()
	ts := &testServer{password: "s3cret"}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/login" {
			ts.logins.Add(1)
			if r.FormValue("username") != "admin" || r.FormValue("password") != ts.password {
				http.Error(w, `{"error": "invalid credentials"}`, http.StatusUnauthorized)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "session-token", Path: "/"})
			w.WriteHeader(http.StatusOK)
			return
		}

		cookie, err := r.Cookie(CookieName)
		if err != nil || cookie.Value != "session-token" {
			http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestSession(t *testing.T, ts *testServer) *Session {
	t.Helper()
	s, err := New(
		Credentials{Username: "admin", Password: "s3cret"},
		Options{BaseURL: ts.URL, CookiePath: filepath.Join(t.TempDir(), "test.cookie")},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestLoginCachesCookie(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	s := newTestSession(t, ts)

	if err := s.Login(context.Background(), false); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got := ts.logins.Load(); got != 1 {
		t.Fatalf("logins = %d, want 1", got)
	}

	data, err := os.ReadFile(s.cookiePath)
	if err != nil {
		t.Fatalf("cookie cache not written: %v", err)
	}
	if string(data) != "session-token" {
		t.Fatalf("cached cookie = %q", data)
	}

	// A second login call is satisfied by the live cookie.
	if err := s.Login(context.Background(), false); err != nil {
		t.Fatalf("Login (cached): %v", err)
	}
	if got := ts.logins.Load(); got != 1 {
		t.Fatalf("logins after cached login = %d, want 1", got)
	}
}

func TestCachedCookieAdoptedWithoutNetwork(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": true}`))
	})

	cookiePath := filepath.Join(t.TempDir(), "test.cookie")
	if err := os.WriteFile(cookiePath, []byte("session-token"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := New(
		Credentials{Username: "admin", Password: "s3cret"},
		Options{BaseURL: ts.URL, CookiePath: cookiePath},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Login(context.Background(), false); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got := ts.logins.Load(); got != 0 {
		t.Fatalf("adopting a cached cookie hit the login endpoint %d times", got)
	}

	resp, err := s.Request(context.Background(), http.MethodGet, "/users", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := ts.logins.Load(); got != 0 {
		t.Fatalf("request with a valid cached cookie logged in %d times", got)
	}
}

func TestForceLoginDiscardsCacheEvenOnFailure(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	ts.password = "changed-server-side"

	cookiePath := filepath.Join(t.TempDir(), "test.cookie")
	if err := os.WriteFile(cookiePath, []byte("stale-token"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := New(
		Credentials{Username: "admin", Password: "s3cret"},
		Options{BaseURL: ts.URL, CookiePath: cookiePath},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = s.Login(context.Background(), true)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}

	// Even though the forced login failed, the stale cache must be gone.
	if _, statErr := os.Stat(cookiePath); !os.IsNotExist(statErr) {
		t.Fatal("stale cookie cache survived a forced login")
	}
}

func TestRequestRetriesOnceOn401(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": true}`))
	})

	// Pre-seed a cookie the server no longer accepts.
	cookiePath := filepath.Join(t.TempDir(), "test.cookie")
	if err := os.WriteFile(cookiePath, []byte("expired-token"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := New(
		Credentials{Username: "admin", Password: "s3cret"},
		Options{BaseURL: ts.URL, CookiePath: cookiePath},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := s.Request(context.Background(), http.MethodGet, "/users", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("status = %d after transparent re-login", resp.StatusCode)
	}
	if got := ts.logins.Load(); got != 1 {
		t.Fatalf("logins = %d, want exactly 1 forced re-login", got)
	}
}

func TestRequestSurfacesSecond401(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		// Even a fresh session is rejected here.
		http.Error(w, `{"error": "forbidden"}`, http.StatusUnauthorized)
	})
	s := newTestSession(t, ts)

	resp, err := s.Request(context.Background(), http.MethodGet, "/users", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 surfaced to the caller", resp.StatusCode)
	}
	// One initial login plus one forced re-login, never more.
	if got := ts.logins.Load(); got != 2 {
		t.Fatalf("logins = %d, want 2", got)
	}
}

func TestRequestParamsBecomeQueryString(t *testing.T) {
	var gotQuery string
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	})
	s := newTestSession(t, ts)

	params := map[string][]string{"force": {"true"}}
	if _, err := s.Request(context.Background(), http.MethodDelete, "/domains/example.org", params); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if gotQuery != "force=true" {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestAssertMinVersion(t *testing.T) {
	serverVersion := "12.10.1"
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/versions" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"yunohost": {"version": "` + serverVersion + `"}, "moulinette": {"version": "12.0.0"}}`))
	})
	s := newTestSession(t, ts)
	ctx := context.Background()

	// 12.10.1 >= 12.9.0 semantically, even though it sorts lower lexically.
	if err := s.AssertMinVersion(ctx, "12.9.0"); err != nil {
		t.Fatalf("AssertMinVersion: %v", err)
	}

	serverVersion = "11.2.3"
	err := s.AssertMinVersion(ctx, "12.1.0")
	var verErr *VersionError
	if !errors.As(err, &verErr) {
		t.Fatalf("err = %v, want *VersionError", err)
	}
	if verErr.Found != "11.2.3" {
		t.Fatalf("Found = %q", verErr.Found)
	}
}

func TestParseVersionTolerance(t *testing.T) {
	tests := []struct {
		raw  string
		ok   bool
		norm string
	}{
		{"12.1.2", true, "12.1.2"},
		{"12.1", true, "12.1.0"},
		{"12.1.2.1", true, "12.1.2"},
		{"12.1.2~alpha", true, "12.1.2"},
		{"12.1.2+build3", true, "12.1.2"},
		{"not-a-version", false, ""},
	}
	for _, tt := range tests {
		v, err := parseVersion(tt.raw)
		if tt.ok != (err == nil) {
			t.Errorf("parseVersion(%q) err = %v", tt.raw, err)
			continue
		}
		if tt.ok && v.String() != tt.norm {
			t.Errorf("parseVersion(%q) = %s, want %s", tt.raw, v, tt.norm)
		}
	}
}

func TestRealURLCollapsesSlashes(t *testing.T) {
	s := &Session{baseURL: "https://yuno.example.org/yunohost/api"}
	tests := []struct {
		in, want string
	}{
		{"/users", "https://yuno.example.org/yunohost/api/users"},
		{"//users", "https://yuno.example.org/yunohost/api/users"},
		{"/apps//wordpress", "https://yuno.example.org/yunohost/api/apps/wordpress"},
		{"users", "https://yuno.example.org/yunohost/api/users"},
	}
	for _, tt := range tests {
		if got := s.realURL(tt.in); got != tt.want {
			t.Errorf("realURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoginBadCredentials(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	ts.password = "different"
	s := newTestSession(t, ts)

	err := s.Login(context.Background(), false)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("StatusCode = %d", authErr.StatusCode)
	}
	if authErr.Message != "invalid credentials" {
		t.Fatalf("Message = %q", authErr.Message)
	}
}
