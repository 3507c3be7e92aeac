package handler

import (
	"net/http"
	"net/url"
	"strings"
)

// safeNextURL extracts the post-login return path from the request and
// validates it against the site host. Anything that would leave the site
// (foreign hosts, scheme-relative URLs, opaque schemes) collapses to "/",
// so an attacker-controlled next_url can never turn the flow into an open
// redirect. The login page itself also collapses to "/" to avoid a loop.
func (h *Handlers) safeNextURL(r *http.Request) string {
	next := r.URL.Query().Get("next_url")
	if next == "" || next == "/login" || next == "/login/" {
		return "/"
	}

	// Browsers normalize backslashes to slashes in http(s) URLs, so
	// "/\evil.com" resolves as "//evil.com" while url.Parse sees a
	// relative path with no host. Reject backslashes outright.
	if strings.Contains(next, "\\") {
		return "/"
	}

	p, err := url.Parse(next)
	if err != nil || p.Opaque != "" {
		return "/"
	}
	if p.Scheme != "" && p.Host == "" {
		return "/"
	}
	if p.Host != "" {
		site := strings.TrimPrefix(h.cfg.SiteHost, "www.")
		if strings.TrimPrefix(p.Host, "www.") != site {
			h.logger.Info("rejecting off-site redirect", "next_url", next)
			return "/"
		}
	}
	return next
}
