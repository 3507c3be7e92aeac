package handler

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/emberblog/identity/internal/config"
)

func TestSafeNextURL(t *testing.T) {
	h := &Handlers{
		cfg:    &config.Config{SiteHost: "www.blog.example.com"},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	cases := []struct {
		name string
		next string
		want string
	}{
		{"empty", "", "/"},
		{"login page", "/login", "/"},
		{"login page trailing slash", "/login/", "/"},
		{"relative path", "/posts/42", "/posts/42"},
		{"same host", "https://blog.example.com/posts/42", "https://blog.example.com/posts/42"},
		{"same host with www", "https://www.blog.example.com/posts/42", "https://www.blog.example.com/posts/42"},
		{"foreign host", "https://evil.example.org/phish", "/"},
		{"foreign host with www", "https://www.evil.example.org/", "/"},
		{"scheme-relative foreign", "//evil.example.org/phish", "/"},
		{"backslash schemeless", `/\evil.example.org`, "/"},
		{"backslash first", `\/evil.example.org`, "/"},
		{"double backslash", `\\evil.example.org`, "/"},
		{"backslash after path", `/posts/..\\evil.example.org`, "/"},
		{"opaque scheme", "javascript:alert(1)", "/"},
		{"mailto", "mailto:a@example.com", "/"},
		{"unparseable", "http://%zz", "/"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/oauth/authorize?next_url="+url.QueryEscape(c.next), nil)
			assert.Equal(t, c.want, h.safeNextURL(r))
		})
	}
}
