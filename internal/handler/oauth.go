package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/emberblog/identity/internal/middleware"
	"github.com/emberblog/identity/internal/provider"
	"github.com/emberblog/identity/internal/registry"
)

// OAuthLogin handles GET /oauth/oauthlogin?type=..&next_url=..
// It redirects the browser to the provider's authorization page. An
// unknown or disabled provider silently goes home: the feature being
// unavailable is not a user-facing error.
func (h *Handlers) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	providerType := r.URL.Query().Get("type")
	if providerType == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	adapter, err := h.registry.Get(r.Context(), providerType)
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			h.logger.Error("resolving provider", "type", providerType, "error", err)
		}
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	next := h.safeNextURL(r)
	http.Redirect(w, r, adapter.AuthorizationURL(next), http.StatusFound)
}

// Authorize handles GET /oauth/authorize?type=..&code=.., the provider
// callback. It exchanges the code, fetches the profile and hands the
// result to the account linker. A failed token exchange gets exactly one
// retry redirect back to the authorization page; a second consecutive
// failure goes home instead of looping.
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	providerType := r.URL.Query().Get("type")
	if providerType == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	adapter, err := h.registry.Get(r.Context(), providerType)
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			h.logger.Error("resolving provider", "type", providerType, "error", err)
		}
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	next := h.safeNextURL(r)
	code := r.URL.Query().Get("code")
	session := middleware.GetSession(r)

	tok, err := adapter.ExchangeCode(r.Context(), code)
	if err != nil {
		h.logger.Warn("token exchange failed", "type", providerType, "error", err)
		if errors.Is(err, provider.ErrTokenExchange) && session != nil {
			if retried, _ := session.Values[middleware.SessionKeyRetried].(bool); !retried {
				session.Values[middleware.SessionKeyRetried] = true
				middleware.SaveSession(r, w)
				http.Redirect(w, r, adapter.AuthorizationURL(next), http.StatusFound)
				return
			}
			delete(session.Values, middleware.SessionKeyRetried)
			middleware.SaveSession(r, w)
		}
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	// Clear the retry flag as soon as the exchange succeeds, and persist
	// the clear even when a later step fails, so the next login attempt
	// keeps its one retry.
	if session != nil {
		if _, ok := session.Values[middleware.SessionKeyRetried]; ok {
			delete(session.Values, middleware.SessionKeyRetried)
			middleware.SaveSession(r, w)
		}
	}

	profile, err := adapter.FetchProfile(r.Context(), tok)
	if err != nil {
		// The token was good but the profile call failed: a login failure,
		// not something to retry within this request.
		h.logger.Error("profile fetch failed", "type", providerType, "error", err)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	res, err := h.linker.Login(r.Context(), adapter, profile)
	if err != nil {
		h.logger.Error("account linking failed", "type", providerType, "error", err)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if res.Account == nil {
		// No email from the provider: collect one before linking.
		middleware.SaveSession(r, w)
		http.Redirect(w, r, fmt.Sprintf("/oauth/requireemail/%s.html", res.Identity.ID), http.StatusFound)
		return
	}

	h.establishSession(w, r, res.Account.ID.String())
	http.Redirect(w, r, next, http.StatusFound)
}

// establishSession marks the account as logged in on the session cookie.
func (h *Handlers) establishSession(w http.ResponseWriter, r *http.Request, accountID string) {
	session := middleware.GetSession(r)
	if session == nil {
		return
	}
	session.Values[middleware.SessionKeyAccountID] = accountID
	if err := middleware.SaveSession(r, w); err != nil {
		h.logger.Error("saving session", "error", err)
	}
}
