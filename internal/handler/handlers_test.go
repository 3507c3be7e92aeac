package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberblog/identity/internal/cache"
	"github.com/emberblog/identity/internal/config"
	"github.com/emberblog/identity/internal/crypto"
	"github.com/emberblog/identity/internal/linker"
	appMiddleware "github.com/emberblog/identity/internal/middleware"
	"github.com/emberblog/identity/internal/provider"
	"github.com/emberblog/identity/internal/registry"
	"github.com/emberblog/identity/internal/store"
)

const testLinkSecret = "handler-test-link-secret"

// stubAdapter is a scriptable Adapter for handler tests.
type stubAdapter struct {
	mu          sync.Mutex
	exchangeErr error
	exchanges   int
	profile     *provider.Profile
	fetchErr    error
}

func (a *stubAdapter) Type() string { return "stub" }

func (a *stubAdapter) AuthorizationURL(nextURL string) string {
	return "https://provider.example.com/authorize?next_url=" + url.QueryEscape(nextURL)
}

func (a *stubAdapter) ExchangeCode(ctx context.Context, code string) (*provider.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exchanges++
	if a.exchangeErr != nil {
		return nil, a.exchangeErr
	}
	return &provider.Token{AccessToken: "stub-token"}, nil
}

func (a *stubAdapter) FetchProfile(ctx context.Context, tok *provider.Token) (*provider.Profile, error) {
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	cp := *a.profile
	cp.AccessToken = tok.AccessToken
	return &cp, nil
}

func (a *stubAdapter) AvatarFromRaw(raw string) (string, error) { return "", nil }
func (a *stubAdapter) RetainsToken() bool                       { return true }

func (a *stubAdapter) exchangeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exchanges
}

// testEnv wires the full handler stack against in-memory backends.
type testEnv struct {
	router  chi.Router
	store   *store.Memory
	adapter *stubAdapter
	sender  *recordingSender
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string // recipient addresses
}

func (s *recordingSender) Send(to, subject, htmlBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, to)
	return nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		SiteURL:       "https://blog.example.com",
		SiteHost:      "blog.example.com",
		SessionSecret: "handler-test-session-secret",
		LinkSecret:    testLinkSecret,
	}

	st := store.NewMemory()
	st.SetProviderConfigs([]store.ProviderConfig{{
		ProviderType: "stub",
		ClientID:     "stub-client",
		ClientSecret: "stub-secret",
		CallbackURL:  "https://blog.example.com/oauth/authorize?type=stub",
		Enabled:      true,
	}})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	adapter := &stubAdapter{
		profile: &provider.Profile{
			OpenID:   "ext-1",
			Nickname: "stub-user",
			Email:    "stub@example.com",
		},
	}

	reg := registry.New(st, cache.NewMemory(time.Minute), provider.Clients{}, time.Minute, logger)
	reg.RegisterFactory("stub", func(c provider.Config, cl provider.Clients) (provider.Adapter, error) {
		return adapter, nil
	})

	sender := &recordingSender{}
	lk := linker.New(st, sender, cfg.LinkSecret, cfg.SiteURL, logger)

	h := NewHandlers(cfg, reg, lk, st, logger)

	sessionStore, err := appMiddleware.NewSessionStore(cfg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(appMiddleware.Session(sessionStore))
	h.Mount(r)

	return &testEnv{router: r, store: st, adapter: adapter, sender: sender}
}

// get performs one request against the router, carrying the given cookies.
func (e *testEnv) get(t *testing.T, target string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postForm(t *testing.T, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestOAuthLoginRedirectsToProvider(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/oauth/oauthlogin?type=stub&next_url=/posts/42", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "provider.example.com", loc.Host)
	assert.Equal(t, "/posts/42", loc.Query().Get("next_url"))
}

func TestOAuthLoginUnknownTypeGoesHome(t *testing.T) {
	e := newTestEnv(t)

	for _, target := range []string{
		"/oauth/oauthlogin",
		"/oauth/oauthlogin?type=mystery",
	} {
		rec := e.get(t, target, nil)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
	}
}

func TestAuthorizeWithEmailEstablishesSession(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/oauth/authorize?type=stub&code=ok&next_url=/posts/42", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/posts/42", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == appMiddleware.SessionName {
			found = true
		}
	}
	assert.True(t, found, "session cookie should be set")

	// The identity is linked to an account resolved by email.
	ident := e.identityByExternalID(t, "ext-1")
	require.NotNil(t, ident.LinkedAccountID)
	acc, err := e.store.AccountByID(context.Background(), *ident.LinkedAccountID)
	require.NoError(t, err)
	assert.Equal(t, "stub@example.com", acc.Email)
}

func TestAuthorizeRepeatCallbackReusesAccount(t *testing.T) {
	e := newTestEnv(t)

	e.get(t, "/oauth/authorize?type=stub&code=ok", nil)
	first := e.identityByExternalID(t, "ext-1")
	require.NotNil(t, first.LinkedAccountID)

	e.get(t, "/oauth/authorize?type=stub&code=ok", nil)
	second := e.identityByExternalID(t, "ext-1")
	require.NotNil(t, second.LinkedAccountID)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, *first.LinkedAccountID, *second.LinkedAccountID)
}

func TestAuthorizeWithoutEmailRedirectsToRequireEmail(t *testing.T) {
	e := newTestEnv(t)
	e.adapter.profile.Email = ""

	rec := e.get(t, "/oauth/authorize?type=stub&code=ok", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	loc := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(loc, "/oauth/requireemail/"), "got %q", loc)
	assert.True(t, strings.HasSuffix(loc, ".html"))

	ident := e.identityByExternalID(t, "ext-1")
	assert.Nil(t, ident.LinkedAccountID)
	assert.Contains(t, loc, ident.ID.String())
}

func TestAuthorizeTokenExchangeRetryIsBounded(t *testing.T) {
	e := newTestEnv(t)
	e.adapter.exchangeErr = provider.ErrTokenExchange

	// First failure redirects back to the provider for one retry.
	rec := e.get(t, "/oauth/authorize?type=stub&code=bad&next_url=/posts/42", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "provider.example.com", loc.Host)

	// Second failure, same session, goes home instead of looping.
	rec2 := e.get(t, "/oauth/authorize?type=stub&code=bad&next_url=/posts/42", rec.Result().Cookies())
	require.Equal(t, http.StatusFound, rec2.Code)
	assert.Equal(t, "/", rec2.Header().Get("Location"))

	assert.Equal(t, 2, e.adapter.exchangeCount())
}

func TestAuthorizeRetryFlagClearSurvivesLaterFailure(t *testing.T) {
	e := newTestEnv(t)

	// First attempt: exchange fails, the retry flag lands in the cookie.
	e.adapter.exchangeErr = provider.ErrTokenExchange
	rec := e.get(t, "/oauth/authorize?type=stub&code=bad", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	// Retry: exchange succeeds but the profile fetch fails. The flag
	// clear must still reach the cookie.
	e.adapter.exchangeErr = nil
	e.adapter.fetchErr = provider.ErrProfileFetch
	rec2 := e.get(t, "/oauth/authorize?type=stub&code=ok", rec.Result().Cookies())
	require.Equal(t, http.StatusFound, rec2.Code)
	assert.Equal(t, "/", rec2.Header().Get("Location"))

	// A browser keeps the old session cookie unless the response replaced
	// it, so the flag clear only counts if it reached rec2's Set-Cookie.
	cookies := rec.Result().Cookies()
	if updated := rec2.Result().Cookies(); len(updated) > 0 {
		cookies = updated
	}

	// A later independent attempt with a failing exchange still gets its
	// one retry redirect back to the provider.
	e.adapter.exchangeErr = provider.ErrTokenExchange
	e.adapter.fetchErr = nil
	rec3 := e.get(t, "/oauth/authorize?type=stub&code=bad&next_url=/posts/42", cookies)
	require.Equal(t, http.StatusFound, rec3.Code)
	loc, err := url.Parse(rec3.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "provider.example.com", loc.Host, "retry should be available again")
}

func TestAuthorizeProfileFetchFailureGoesHome(t *testing.T) {
	e := newTestEnv(t)
	e.adapter.fetchErr = provider.ErrProfileFetch

	rec := e.get(t, "/oauth/authorize?type=stub&code=ok&next_url=/posts/42", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestAuthorizeOffSiteNextURLCollapses(t *testing.T) {
	e := newTestEnv(t)

	for _, next := range []string{
		"https://evil.example.org/phish",
		`/\evil.example.org`,
		`\\evil.example.org`,
	} {
		rec := e.get(t, "/oauth/authorize?type=stub&code=ok&next_url="+url.QueryEscape(next), nil)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"), "next_url %q", next)
	}
}

func (e *testEnv) identityByExternalID(t *testing.T, externalID string) *store.LinkedIdentity {
	t.Helper()
	// Upsert with only the key fields returns the stored row without
	// touching what matters here.
	ident, err := e.store.UpsertIdentity(context.Background(), &store.LinkedIdentity{
		ProviderType: "stub",
		ExternalID:   externalID,
	})
	require.NoError(t, err)
	return ident
}

func TestRequireEmailFormRendering(t *testing.T) {
	e := newTestEnv(t)

	ident, err := e.store.UpsertIdentity(context.Background(), &store.LinkedIdentity{
		ProviderType: "stub",
		ExternalID:   "no-email",
		AvatarURL:    "https://img.example.com/a.png",
	})
	require.NoError(t, err)

	rec := e.get(t, "/oauth/requireemail/"+ident.ID.String()+".html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ident.ID.String())
	assert.Contains(t, rec.Body.String(), "https://img.example.com/a.png")

	// Unknown and malformed ids are a plain 404.
	rec = e.get(t, "/oauth/requireemail/not-a-uuid.html", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequireEmailSubmitInvalidAddress(t *testing.T) {
	e := newTestEnv(t)

	ident, err := e.store.UpsertIdentity(context.Background(), &store.LinkedIdentity{
		ProviderType: "stub",
		ExternalID:   "no-email",
	})
	require.NoError(t, err)

	rec := e.postForm(t, "/oauth/requireemail/"+ident.ID.String()+".html", url.Values{
		"oauthid": {ident.ID.String()},
		"email":   {"not-an-address"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "valid email address")
	assert.Empty(t, e.sender.sent)
}

func TestRequireEmailSubmitSendsConfirmation(t *testing.T) {
	e := newTestEnv(t)

	ident, err := e.store.UpsertIdentity(context.Background(), &store.LinkedIdentity{
		ProviderType: "stub",
		ExternalID:   "no-email",
	})
	require.NoError(t, err)

	rec := e.postForm(t, "/oauth/requireemail/"+ident.ID.String()+".html", url.Values{
		"oauthid": {ident.ID.String()},
		"email":   {"late@example.com"},
	})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/oauth/bindsuccess/"+ident.ID.String()+".html?type=email", rec.Header().Get("Location"))

	require.Len(t, e.sender.sent, 1)
	assert.Equal(t, "late@example.com", e.sender.sent[0])

	got, err := e.store.IdentityByID(context.Background(), ident.ID)
	require.NoError(t, err)
	assert.Equal(t, "late@example.com", got.Email)
	assert.Nil(t, got.LinkedAccountID, "not linked until the mailed link is visited")
}

func TestEmailConfirmCompletesLinking(t *testing.T) {
	e := newTestEnv(t)

	ident, err := e.store.UpsertIdentity(context.Background(), &store.LinkedIdentity{
		ProviderType: "stub",
		ExternalID:   "no-email",
		Nickname:     "late-user",
		Email:        "late@example.com",
	})
	require.NoError(t, err)

	sig := crypto.LinkSign(testLinkSecret, ident.ID.String())
	rec := e.get(t, "/oauth/emailconfirm/"+ident.ID.String()+"/"+sig+".html", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/oauth/bindsuccess/"+ident.ID.String()+".html?type=success", rec.Header().Get("Location"))

	got, err := e.store.IdentityByID(context.Background(), ident.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LinkedAccountID)

	var sessionCookie bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == appMiddleware.SessionName {
			sessionCookie = true
		}
	}
	assert.True(t, sessionCookie, "confirmation logs the user in")
}

func TestEmailConfirmTamperedSignature(t *testing.T) {
	e := newTestEnv(t)

	ident, err := e.store.UpsertIdentity(context.Background(), &store.LinkedIdentity{
		ProviderType: "stub",
		ExternalID:   "no-email",
		Email:        "late@example.com",
	})
	require.NoError(t, err)

	sig := crypto.LinkSign(testLinkSecret, ident.ID.String())
	tampered := "0" + sig[1:]
	if tampered == sig {
		tampered = "1" + sig[1:]
	}

	rec := e.get(t, "/oauth/emailconfirm/"+ident.ID.String()+"/"+tampered+".html", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Fail closed: no state change, no session.
	got, err := e.store.IdentityByID(context.Background(), ident.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LinkedAccountID)
	for _, c := range rec.Result().Cookies() {
		assert.NotEqual(t, appMiddleware.SessionName, c.Name)
	}
}

func TestEmailConfirmMalformedID(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/oauth/emailconfirm/not-a-uuid/deadbeef.html", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBindSuccessPages(t *testing.T) {
	e := newTestEnv(t)

	ident, err := e.store.UpsertIdentity(context.Background(), &store.LinkedIdentity{
		ProviderType: "stub",
		ExternalID:   "no-email",
	})
	require.NoError(t, err)

	rec := e.get(t, "/oauth/bindsuccess/"+ident.ID.String()+".html?type=email", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "log in to your email")

	rec = e.get(t, "/oauth/bindsuccess/"+ident.ID.String()+".html?type=success", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "successfully bound")
	assert.Contains(t, rec.Body.String(), "stub")
}
