package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGitHubTestAdapter(t *testing.T, tokenURL, userURL string) *GitHubAdapter {
	t.Helper()
	a, err := NewGitHubAdapter(Config{
		ClientID:     "gh-client",
		ClientSecret: "gh-secret",
		CallbackURL:  "https://blog.example.com/oauth/authorize?type=github",
		TokenURL:     tokenURL,
		UserURL:      userURL,
	}, testClients(t))
	require.NoError(t, err)
	return a
}

func TestGitHubAuthorizationURL(t *testing.T) {
	a := newGitHubTestAdapter(t, "http://unused", "http://unused")

	u, err := url.Parse(a.AuthorizationURL("/about/"))
	require.NoError(t, err)
	assert.Equal(t, "gh-client", u.Query().Get("client_id"))
	assert.Equal(t, "user", u.Query().Get("scope"))
	assert.Contains(t, u.Query().Get("redirect_uri"), "next_url=/about/")
}

func TestGitHubExchangeCodeFormEncodedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "gh-secret", r.PostForm.Get("client_secret"))

		// GitHub answers form-urlencoded, not JSON.
		w.Write([]byte("access_token=gh-token&scope=user&token_type=bearer"))
	}))
	defer srv.Close()

	a := newGitHubTestAdapter(t, srv.URL, "http://unused")

	tok, err := a.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "gh-token", tok.AccessToken)
	assert.Empty(t, tok.OpenID)
}

func TestGitHubExchangeCodeMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("error=bad_verification_code"))
	}))
	defer srv.Close()

	a := newGitHubTestAdapter(t, srv.URL, "http://unused")

	_, err := a.ExchangeCode(context.Background(), "stale-code")
	require.ErrorIs(t, err, ErrTokenExchange)
}

func TestGitHubFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token gh-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":583231,"name":"Octo Cat","avatar_url":"https://avatars.example.com/583231","email":"octo@example.com"}`))
	}))
	defer srv.Close()

	a := newGitHubTestAdapter(t, "http://unused", srv.URL)

	p, err := a.FetchProfile(context.Background(), &Token{AccessToken: "gh-token"})
	require.NoError(t, err)
	assert.Equal(t, "583231", p.OpenID)
	assert.Equal(t, "Octo Cat", p.Nickname)
	assert.Equal(t, "https://avatars.example.com/583231", p.AvatarURL)
	assert.Equal(t, "octo@example.com", p.Email)
}

func TestGitHubRetainsToken(t *testing.T) {
	a := newGitHubTestAdapter(t, "http://unused", "http://unused")
	assert.True(t, a.RetainsToken())
}
