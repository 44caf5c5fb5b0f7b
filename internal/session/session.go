// Package session manages authenticated access to a YunoHost server's
// administration API: logging in, caching the session cookie across
// invocations, and transparently re-authenticating expired sessions.
package session

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/blang/semver/v4"

	"github.com/YunoHost/cli/internal/config"
)

const (
	// CookieName is the session cookie issued by the server on login.
	CookieName = "yunohost.admin"

	apiPrefix = "/yunohost/api"

	defaultHTTPTimeout = 10 * time.Second
	errorMessageLimit  = 64 * 1024
)

// Credentials identify one server and the admin account used against it.
type Credentials struct {
	Host          string // Hostname, without scheme
	Username      string
	Password      string
	SkipTLSVerify bool
}

// Options tune the session beyond the stored credentials.
type Options struct {
	ServerName string // Profile name, keys the cookie cache file
	CookiePath string // Override for the cookie cache path (primarily for tests)
	BaseURL    string // Override for the API base URL (primarily for tests)
}

// AuthError indicates the server rejected the credentials or the session.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("session: authentication failed (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("session: authentication failed: %s", e.Message)
}

// VersionError indicates the server runs a YunoHost older than this CLI
// supports.
type VersionError struct {
	Found    string
	Required string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("session: server runs YunoHost %s, at least %s is required", e.Found, e.Required)
}

// Response is the outcome of one API request, body fully read.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Session is an authenticated connection to one server. It is safe for
// concurrent use.
type Session struct {
	baseURL    string
	creds      Credentials
	cookiePath string

	jar        *cookiejar.Jar
	httpClient *http.Client

	streamClient *http.Client
	streamOnce   sync.Once

	mu sync.Mutex // serialises login and cookie cache writes
}

// New builds a session for the given server. A previously cached session
// cookie is adopted without contacting the server; whether it is still
// valid only shows up on the first request.
func New(creds Credentials, opts Options) (*Session, error) {
	if creds.Host == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("session: server host is required")
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://" + creds.Host + apiPrefix
	}

	cookiePath := opts.CookiePath
	if cookiePath == "" {
		name := opts.ServerName
		if name == "" {
			name = config.DefaultServer
		}
		paths, err := config.EnsurePaths()
		if err != nil {
			return nil, fmt.Errorf("session: ensure cache directories: %w", err)
		}
		cookiePath = paths.CookiePath(name)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("session: create cookie jar: %w", err)
	}

	httpClient := &http.Client{
		Timeout: defaultHTTPTimeout,
		Jar:     jar,
	}
	if creds.SkipTLSVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	s := &Session{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		cookiePath: cookiePath,
		jar:        jar,
		httpClient: httpClient,
	}
	s.adoptCachedCookie()

	return s, nil
}

// BaseURL returns the API base URL the session talks to.
func (s *Session) BaseURL() string {
	return s.baseURL
}

// Login establishes a session with the server. Without force a cached
// cookie short-circuits the call; with force any cached session is
// discarded first, even when the subsequent login fails.
func (s *Session) Login(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginLocked(ctx, force)
}

func (s *Session) loginLocked(ctx context.Context, force bool) error {
	if force {
		s.discardSession()
	} else if s.hasSessionCookie() {
		return nil
	}

	form := url.Values{}
	form.Set("username", s.creds.Username)
	form.Set("password", s.creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.realURL("/login"), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("session: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session: login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &AuthError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp)}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, errorMessageLimit))

	if !s.hasSessionCookie() {
		return &AuthError{StatusCode: resp.StatusCode, Message: "server did not set a session cookie"}
	}

	if err := s.persistCookie(); err != nil {
		return err
	}
	return nil
}

// Request performs one API call. The URI must already have its
// placeholders substituted; params ride as query parameters. On a 401 the
// session re-authenticates with force and retries exactly once; a second
// 401 is returned to the caller.
func (s *Session) Request(ctx context.Context, method, uri string, params url.Values) (*Response, error) {
	if !s.hasSessionCookie() {
		if err := s.Login(ctx, false); err != nil {
			return nil, err
		}
	}

	resp, err := s.do(ctx, method, uri, params)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// The cached session expired server-side. Re-authenticate and retry
	// once; a second rejection means the credentials themselves are bad.
	if err := s.Login(ctx, true); err != nil {
		return nil, err
	}
	return s.do(ctx, method, uri, params)
}

func (s *Session) do(ctx context.Context, method, uri string, params url.Values) (*Response, error) {
	target := s.realURL(uri)
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("session: build %s %s: %w", method, uri, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session: %s %s: %w", method, uri, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("session: read %s %s response: %w", method, uri, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       body,
	}, nil
}

// AssertMinVersion checks the server's YunoHost version against a minimum.
// Comparison is semantic, not lexical ("12.10.0" is newer than "12.9.0").
func (s *Session) AssertMinVersion(ctx context.Context, min string) error {
	resp, err := s.Request(ctx, http.MethodGet, "/versions", nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("session: query versions: %s", strings.TrimSpace(resp.Status))
	}

	var payload map[string]struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return fmt.Errorf("session: parse versions response: %w", err)
	}
	found := payload["yunohost"].Version
	if found == "" {
		return fmt.Errorf("session: versions response lacks a yunohost version")
	}

	foundVer, err := parseVersion(found)
	if err != nil {
		return fmt.Errorf("session: parse server version %q: %w", found, err)
	}
	minVer, err := parseVersion(min)
	if err != nil {
		return fmt.Errorf("session: parse required version %q: %w", min, err)
	}

	if foundVer.LT(minVer) {
		return &VersionError{Found: found, Required: min}
	}
	return nil
}

// parseVersion normalises a YunoHost package version to semver. Debian
// style suffixes ("12.1.2.1~beta") and short forms ("12.1") are tolerated
// by keeping only the first three numeric components.
func parseVersion(raw string) (semver.Version, error) {
	trimmed := raw
	if i := strings.IndexAny(trimmed, "~+-"); i >= 0 {
		trimmed = trimmed[:i]
	}
	parts := strings.Split(trimmed, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return semver.ParseTolerant(strings.Join(parts, "."))
}

// realURL joins the API base with a resolved URI, collapsing accidental
// double slashes from template substitution.
func (s *Session) realURL(uri string) string {
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	for strings.Contains(uri, "//") {
		uri = strings.ReplaceAll(uri, "//", "/")
	}
	return s.baseURL + uri
}

func (s *Session) cookieURL() *url.URL {
	u, _ := url.Parse(s.baseURL)
	return u
}

func (s *Session) hasSessionCookie() bool {
	for _, c := range s.jar.Cookies(s.cookieURL()) {
		if c.Name == CookieName {
			return true
		}
	}
	return false
}

// adoptCachedCookie loads a previously persisted session cookie into the
// jar. Staleness is detected later through a 401, not here.
func (s *Session) adoptCachedCookie() {
	data, err := os.ReadFile(s.cookiePath)
	if err != nil {
		return
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return
	}
	s.jar.SetCookies(s.cookieURL(), []*http.Cookie{{
		Name:  CookieName,
		Value: value,
		Path:  "/",
	}})
}

func (s *Session) persistCookie() error {
	for _, c := range s.jar.Cookies(s.cookieURL()) {
		if c.Name != CookieName {
			continue
		}
		if err := os.WriteFile(s.cookiePath, []byte(c.Value), 0o600); err != nil {
			return fmt.Errorf("session: persist session cookie: %w", err)
		}
		return nil
	}
	return nil
}

// discardSession drops both the cached cookie file and the in-memory
// cookie so a fresh login starts from a clean slate.
func (s *Session) discardSession() {
	if err := os.Remove(s.cookiePath); err != nil && !os.IsNotExist(err) {
		// Not fatal, the cache file is overwritten after the next
		// successful login.
		log.Printf("[Session] WARNING: remove cookie cache %s: %v", s.cookiePath, err)
	}
	s.jar.SetCookies(s.cookieURL(), []*http.Cookie{{
		Name:   CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}})
}

func readErrorMessage(resp *http.Response) string {
	limited := io.LimitReader(resp.Body, errorMessageLimit)
	data, err := io.ReadAll(limited)
	if err != nil || len(data) == 0 {
		return strings.TrimSpace(resp.Status)
	}
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return errResp.Error
	}
	return strings.TrimSpace(string(data))
}

// streamingHTTPClient clones the configured client with timeouts disabled
// for long-lived event streams.
func (s *Session) streamingHTTPClient() *http.Client {
	s.streamOnce.Do(func() {
		clone := *s.httpClient
		clone.Timeout = 0
		s.streamClient = &clone
	})
	return s.streamClient
}
