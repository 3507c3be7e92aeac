package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/emberblog/identity/internal/linker"
	"github.com/emberblog/identity/internal/store"
)

// RequireEmailForm handles GET /oauth/requireemail/{oauthid}.html and
// renders the email-collection form for an identity whose provider
// returned no address.
func (h *Handlers) RequireEmailForm(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "oauthid"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	ident, err := h.store.IdentityByID(r.Context(), id)
	if err != nil {
		h.notFoundOrError(w, r, err)
		return
	}

	picture := ident.AvatarURL
	if picture == "" && ident.RawProfile != "" {
		// Fall back to re-extracting the avatar from the stored raw profile.
		if adapter, err := h.registry.Get(r.Context(), ident.ProviderType); err == nil {
			picture, _ = adapter.AvatarFromRaw(ident.RawProfile)
		}
	}

	h.renderRequireEmail(w, requireEmailData{
		OAuthID: ident.ID.String(),
		Picture: picture,
	})
}

// RequireEmailSubmit handles the POST of the email-collection form. A
// well-formed address is stored unverified and the signed confirmation
// link is mailed to it; a malformed one re-renders the form with a
// field-level message.
func (h *Handlers) RequireEmailSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "oauthid"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// The hidden oauthid field must match the path, as in the original form.
	if formID := r.PostForm.Get("oauthid"); formID != "" && formID != id.String() {
		http.NotFound(w, r)
		return
	}

	address := r.PostForm.Get("email")
	err = h.linker.SubmitEmail(r.Context(), id, address)
	switch {
	case errors.Is(err, linker.ErrInvalidEmail):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusUnprocessableEntity)
		h.renderRequireEmail(w, requireEmailData{
			OAuthID: id.String(),
			Email:   address,
			Error:   "Please enter a valid email address.",
		})
		return
	case errors.Is(err, store.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		h.logger.Error("email submission failed", "identity_id", id, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/oauth/bindsuccess/%s.html?type=email", id), http.StatusFound)
}

// EmailConfirm handles GET /oauth/emailconfirm/{oauthid}/{sign}.html, the
// signed confirmation link. Verification fails closed: any mismatch is a
// bare 403 with no hint whether the identity exists.
func (h *Handlers) EmailConfirm(w http.ResponseWriter, r *http.Request) {
	sign := chi.URLParam(r, "sign")
	id, err := uuid.Parse(chi.URLParam(r, "oauthid"))
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	acc, err := h.linker.Confirm(r.Context(), id, sign)
	switch {
	case errors.Is(err, linker.ErrInvalidSignature):
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	case errors.Is(err, store.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		h.logger.Error("email confirmation failed", "identity_id", id, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.establishSession(w, r, acc.ID.String())
	http.Redirect(w, r, fmt.Sprintf("/oauth/bindsuccess/%s.html?type=success", id), http.StatusFound)
}

// BindSuccess handles GET /oauth/bindsuccess/{oauthid}.html?type=email|success,
// the landing page after the form submission and after confirmation.
func (h *Handlers) BindSuccess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "oauthid"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	ident, err := h.store.IdentityByID(r.Context(), id)
	if err != nil {
		h.notFoundOrError(w, r, err)
		return
	}

	var title, content string
	if r.URL.Query().Get("type") == "email" {
		title = "Bind your email"
		content = "Congratulations, the binding is just one step away. " +
			"Please log in to your email to check the email to complete the binding. Thank you."
	} else {
		title = "Binding successful"
		content = fmt.Sprintf("Congratulations, you have successfully bound your email address. "+
			"You can use %s to directly log in to this website without a password. "+
			"You are welcome to continue to follow this site.", ident.ProviderType)
	}

	h.renderBindSuccess(w, bindSuccessData{Title: title, Content: content})
}

func (h *Handlers) notFoundOrError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	h.logger.Error("loading identity", "error", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
