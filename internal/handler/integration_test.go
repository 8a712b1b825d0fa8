package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/botdir/internal/auth"
	"github.com/hitoshi/botdir/internal/middleware"
	"github.com/hitoshi/botdir/internal/model"
	"github.com/hitoshi/botdir/internal/profile"
	"github.com/hitoshi/botdir/internal/repository"
	"golang.org/x/net/publicsuffix"
)

// --- 統合テスト用のステートフルなインメモリストア ---

type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: make(map[string]*model.Session)}
}

func (m *memorySessionStore) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memorySessionStore) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memorySessionStore) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memorySessionStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type memoryProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile
}

func newMemoryProfileStore() *memoryProfileStore {
	return &memoryProfileStore{profiles: make(map[string]*model.Profile)}
}

func (m *memoryProfileStore) FindByID(_ context.Context, id string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memoryProfileStore) Upsert(_ context.Context, p *model.Profile) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[p.ID]; ok {
		existing.DisplayName = p.DisplayName
		existing.AvatarURL = p.AvatarURL
		existing.Email = p.Email
		existing.IsVerified = p.IsVerified
		existing.UpdatedAt = p.UpdatedAt
		return false, nil
	}
	cp := *p
	m.profiles[p.ID] = &cp
	return true, nil
}

func (m *memoryProfileStore) UpdateIdentityFields(ctx context.Context, p *model.Profile) (bool, error) {
	m.mu.Lock()
	_, ok := m.profiles[p.ID]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	_, err := m.Upsert(ctx, p)
	return err == nil, err
}

func (m *memoryProfileStore) UpdateSettings(_ context.Context, id string, s model.ProfileSettings) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	if s.DisplayName != nil {
		p.DisplayName = *s.DisplayName
	}
	if s.Bio != nil {
		p.Bio = *s.Bio
	}
	cp := *p
	return &cp, nil
}

var _ repository.SessionRepository = (*memorySessionStore)(nil)
var _ repository.ProfileRepository = (*memoryProfileStore)(nil)

// --- Discordのスタブ ---

// fakeDiscord は認可コードを1回だけ受け付けるトークンエンドポイントと /users/@me を提供する。
type fakeDiscord struct {
	server *httptest.Server

	mu        sync.Mutex
	codes     map[string]bool
	exchanges int
}

func newFakeDiscord(t *testing.T) *fakeDiscord {
	t.Helper()
	d := &fakeDiscord{codes: map[string]bool{"code-1": true}}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		d.mu.Lock()
		d.exchanges++
		valid := d.codes[r.PostForm.Get("code")]
		delete(d.codes, r.PostForm.Get("code"))
		d.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !valid {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid \"code\" in request."}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"at-1","token_type":"Bearer","expires_in":604800,"scope":"identify email"}`)
	})
	mux.HandleFunc("/api/users/@me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"80351110224678912","username":"nelly","discriminator":"0","global_name":"Nelly","avatar":null,"email":"nelly@example.com","verified":true}`)
	})

	d.server = httptest.NewServer(mux)
	t.Cleanup(d.server.Close)
	return d
}

func (d *fakeDiscord) exchangeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exchanges
}

// --- 統合テスト用ルーター構築ヘルパー ---

type integrationEnv struct {
	server   *httptest.Server
	discord  *fakeDiscord
	sessions *memorySessionStore
	profiles *memoryProfileStore
	events   []auth.Event
	eventsMu sync.Mutex
}

func newIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()

	env := &integrationEnv{
		discord:  newFakeDiscord(t),
		sessions: newMemorySessionStore(),
		profiles: newMemoryProfileStore(),
	}

	provider := auth.NewDiscordOAuthProvider(auth.DiscordOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/auth/callback",
		AuthURL:      env.discord.server.URL + "/oauth2/authorize",
		TokenURL:     env.discord.server.URL + "/api/oauth2/token",
		APIBaseURL:   env.discord.server.URL + "/api",
	})
	states := auth.NewStateCodec([]byte("integration-test-state-secret-0123456789"), 10*time.Minute)

	bus := auth.NewEventBus()
	bus.Subscribe(func(e auth.Event) {
		env.eventsMu.Lock()
		env.events = append(env.events, e)
		env.eventsMu.Unlock()
	})

	profileService := profile.NewService(env.profiles)
	authService := auth.NewService(provider, states, env.sessions, profileService, bus, nil,
		auth.ServiceConfig{SessionMaxAge: 7 * 24 * 3600})

	pages, err := NewPageHandler("")
	if err != nil {
		t.Fatalf("NewPageHandler: %v", err)
	}
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	env.server = httptest.NewServer(NewRouter(&RouterDeps{
		SessionFinder:     env.sessions,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		AuthService:       authService,
		ProfileService:    profileService,
		Pages:             pages,
	}))
	t.Cleanup(env.server.Close)
	return env
}

func (env *integrationEnv) eventKinds() []string {
	env.eventsMu.Lock()
	defer env.eventsMu.Unlock()
	kinds := make([]string, 0, len(env.events))
	for _, e := range env.events {
		kinds = append(kinds, string(e.Kind))
	}
	return kinds
}

// newBrowser はCookieを保持し、リダイレクトを追わないクライアントを返す。
func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func doRequest(t *testing.T, client *http.Client, method, rawURL string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, rawURL, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func cookieValue(client *http.Client, rawURL, name string) string {
	u, _ := url.Parse(rawURL)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// --- 統合テスト ---

// TestIntegration_SignInFlow はサインイン開始からサインアウトまでの一連の流れを検証する。
func TestIntegration_SignInFlow(t *testing.T) {
	env := newIntegrationEnv(t)
	base := env.server.URL
	browser := newBrowser(t)

	// 保護ページは未サインインならサインインへ
	resp := doRequest(t, browser, http.MethodGet, base+"/favorites", nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("GET /favorites status = %d, want 302", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != "/auth/login?next=%2Ffavorites" {
		t.Fatalf("guard Location = %q", got)
	}

	// サインイン開始
	resp = doRequest(t, browser, http.MethodGet, base+"/auth/login?next=%2Ffavorites", nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("GET /auth/login status = %d, want 302", resp.StatusCode)
	}
	authorize, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("authorize URL: %v", err)
	}
	if !strings.HasPrefix(authorize.String(), env.discord.server.URL+"/oauth2/authorize") {
		t.Fatalf("authorize URL = %q", authorize)
	}
	state := authorize.Query().Get("state")
	if state == "" {
		t.Fatal("authorize URL has no state")
	}
	stateCookie := cookieValue(browser, base, "oauth_state")
	if stateCookie == "" {
		t.Fatal("oauth_state cookie not stored")
	}

	// コールバック
	callbackURL := base + "/auth/callback?code=code-1&state=" + url.QueryEscape(state)
	resp = doRequest(t, browser, http.MethodGet, callbackURL, nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("GET /auth/callback status = %d, want 302", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != "/favorites" {
		t.Fatalf("callback Location = %q, want /favorites", got)
	}
	sessionID := cookieValue(browser, base, "session_id")
	if len(sessionID) != 64 {
		t.Fatalf("session_id = %q, want 64 hex chars", sessionID)
	}
	if cookieValue(browser, base, "oauth_state") != "" {
		t.Error("oauth_state cookie should be cleared after callback")
	}
	if env.discord.exchangeCount() != 1 {
		t.Errorf("token exchanges = %d, want 1", env.discord.exchangeCount())
	}

	// プロフィールはコールバック時に作成されている
	p, _ := env.profiles.FindByID(context.Background(), "80351110224678912")
	if p == nil || p.Username != "nelly" || p.DisplayName != "Nelly" || p.Discriminator != "0" {
		t.Fatalf("profile = %+v", p)
	}

	// セッション照会
	resp = doRequest(t, browser, http.MethodGet, base+"/api/auth/session", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/auth/session status = %d, want 200", resp.StatusCode)
	}
	var view model.SessionView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if view.User.SubjectID != "80351110224678912" || !view.User.EmailVerified {
		t.Errorf("session user = %+v", view.User)
	}
	if view.ExpiresAt <= time.Now().UnixMilli() {
		t.Errorf("expires_at = %d should be in the future", view.ExpiresAt)
	}

	// 保護ページに到達できる
	resp = doRequest(t, browser, http.MethodGet, base+"/favorites", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /favorites after sign-in status = %d, want 200", resp.StatusCode)
	}

	// プロフィールの再照合は冪等
	csrf := fetchCSRFToken(t, browser, base)
	header := http.Header{"X-Csrf-Token": {csrf}}
	resp = doRequest(t, browser, http.MethodPost, base+"/api/profile/ensure", header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/profile/ensure status = %d, want 200", resp.StatusCode)
	}
	var ensured struct {
		Created bool          `json:"created"`
		Profile model.Profile `json:"profile"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ensured); err != nil {
		t.Fatalf("decode ensure: %v", err)
	}
	if ensured.Created || ensured.Profile.ID != "80351110224678912" {
		t.Errorf("ensure = %+v, want existing profile", ensured)
	}

	// サインアウト
	resp = doRequest(t, browser, http.MethodPost, base+"/auth/logout", header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /auth/logout status = %d, want 200", resp.StatusCode)
	}
	if cookieValue(browser, base, "session_id") != "" {
		t.Error("session cookie should be cleared")
	}
	if env.sessions.count() != 0 {
		t.Errorf("sessions remaining = %d, want 0", env.sessions.count())
	}

	// サインアウト後は401
	req, _ := http.NewRequest(http.MethodGet, base+"/api/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/auth/session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("session after logout status = %d, want 401", resp.StatusCode)
	}

	if got := strings.Join(env.eventKinds(), ","); got != "signed_in,signed_out" {
		t.Errorf("events = %s, want signed_in,signed_out", got)
	}
}

// TestIntegration_CallbackReplay は同じコールバックの再送でセッションが作られないことを検証する。
func TestIntegration_CallbackReplay(t *testing.T) {
	env := newIntegrationEnv(t)
	base := env.server.URL
	browser := newBrowser(t)

	resp := doRequest(t, browser, http.MethodGet, base+"/auth/login", nil)
	authorize, _ := url.Parse(resp.Header.Get("Location"))
	state := authorize.Query().Get("state")
	stateCookie := cookieValue(browser, base, "oauth_state")
	callbackURL := base + "/auth/callback?code=code-1&state=" + url.QueryEscape(state)

	resp = doRequest(t, browser, http.MethodGet, callbackURL, nil)
	if got := resp.Header.Get("Location"); got != "/dashboard" {
		t.Fatalf("first callback Location = %q, want /dashboard", got)
	}

	// ブラウザからの再送はstate Cookieが消えているためinvalid_state
	resp = doRequest(t, browser, http.MethodGet, callbackURL, nil)
	loc, _ := url.Parse(resp.Header.Get("Location"))
	if loc.Path != "/auth/error" || loc.Query().Get("error") != "invalid_state" {
		t.Errorf("browser replay Location = %q", loc)
	}

	// 攻撃者がstate Cookieごと再送した場合はコード交換で失敗する
	attacker := newBrowser(t)
	u, _ := url.Parse(base)
	attacker.Jar.SetCookies(u, []*http.Cookie{{Name: "oauth_state", Value: stateCookie, Path: "/"}})
	resp = doRequest(t, attacker, http.MethodGet, callbackURL, nil)
	loc, _ = url.Parse(resp.Header.Get("Location"))
	if loc.Query().Get("error") != "server_error" {
		t.Errorf("replay with state cookie Location = %q, want server_error", loc)
	}
	if cookieValue(attacker, base, "session_id") != "" {
		t.Error("replay must not produce a session cookie")
	}

	if env.sessions.count() != 1 {
		t.Errorf("sessions = %d, want 1", env.sessions.count())
	}
	if env.discord.exchangeCount() != 2 {
		t.Errorf("token exchanges = %d, want 2", env.discord.exchangeCount())
	}
}

// TestIntegration_CallbackWithoutLogin は外部から直接届いたコールバックを拒否することを検証する。
func TestIntegration_CallbackWithoutLogin(t *testing.T) {
	env := newIntegrationEnv(t)
	browser := newBrowser(t)

	resp := doRequest(t, browser, http.MethodGet, env.server.URL+"/auth/callback?code=code-1&state=forged", nil)
	loc, _ := url.Parse(resp.Header.Get("Location"))
	if loc.Query().Get("error") != "invalid_state" {
		t.Errorf("Location = %q, want invalid_state", loc)
	}
	if env.discord.exchangeCount() != 0 {
		t.Errorf("token exchanges = %d, want 0", env.discord.exchangeCount())
	}
}

// TestIntegration_ProviderDenied はユーザーが同意を拒否した場合の遷移を検証する。
func TestIntegration_ProviderDenied(t *testing.T) {
	env := newIntegrationEnv(t)
	browser := newBrowser(t)

	resp := doRequest(t, browser, http.MethodGet,
		env.server.URL+"/auth/callback?error=access_denied&error_description=The+resource+owner+or+authorization+server+denied+the+request", nil)
	loc, _ := url.Parse(resp.Header.Get("Location"))
	if loc.Path != "/auth/error" || loc.Query().Get("error") != "access_denied" {
		t.Fatalf("Location = %q", loc)
	}

	resp = doRequest(t, browser, http.MethodGet, env.server.URL+loc.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /auth/error status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "denied the request") {
		t.Errorf("error page body = %s", body)
	}
}

func fetchCSRFToken(t *testing.T, client *http.Client, base string) string {
	t.Helper()
	resp := doRequest(t, client, http.MethodGet, base+"/api/csrf-token", nil)
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf token: %v", err)
	}
	return body.Token
}
