// Package handler implements the HTTP surface of the login flow:
// initiation, provider callback, the email-collection step and the signed
// confirmation link.
package handler

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/emberblog/identity/internal/config"
	"github.com/emberblog/identity/internal/linker"
	"github.com/emberblog/identity/internal/registry"
	"github.com/emberblog/identity/internal/store"
)

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	cfg      *config.Config
	registry *registry.Registry
	linker   *linker.Linker
	store    store.Store
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	cfg *config.Config,
	reg *registry.Registry,
	lk *linker.Linker,
	st store.Store,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		cfg:      cfg,
		registry: reg,
		linker:   lk,
		store:    st,
		logger:   logger,
	}
}

// Mount registers the login-flow routes on the router.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/oauth/oauthlogin", h.OAuthLogin)
	r.Get("/oauth/authorize", h.Authorize)
	r.Get("/oauth/requireemail/{oauthid}.html", h.RequireEmailForm)
	r.Post("/oauth/requireemail/{oauthid}.html", h.RequireEmailSubmit)
	r.Get("/oauth/emailconfirm/{oauthid}/{sign}.html", h.EmailConfirm)
	r.Get("/oauth/bindsuccess/{oauthid}.html", h.BindSuccess)
}
