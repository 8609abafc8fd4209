package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/hackgods/clinic-assistant/internal/users"
)

// AccountService is satisfied by *users.Accounts.
type AccountService interface {
	Authenticate(ctx context.Context, email, password string) (*users.User, error)
	List(ctx context.Context) ([]users.User, error)
	Create(ctx context.Context, in users.UserInput) (*users.User, error)
	Update(ctx context.Context, id int64, in users.UserInput) (*users.User, error)
	Delete(ctx context.Context, id int64) error
}

var _ AccountService = (*users.Accounts)(nil)

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil || h.accounts == nil {
		writeError(w, http.StatusServiceUnavailable, "auth_disabled", "dashboard login is not configured")
		return
	}
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	u, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is wrong")
		return
	}
	if err != nil {
		h.internalError(w, "login", err)
		return
	}

	now := h.now()
	token, err := h.tokens.Issue(now, u.ID, u.Email, string(u.Role))
	if err != nil {
		h.internalError(w, "issue token", err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: now.Add(h.tokens.TTL()), User: u})
}

func (h *handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.accounts.List(r.Context())
	if err != nil {
		h.internalError(w, "list users", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var in users.UserInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	u, err := h.accounts.Create(r.Context(), in)
	if err != nil {
		h.userError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *handlers) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in users.UserInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	u, err := h.accounts.Update(r.Context(), id, in)
	if err != nil {
		h.userError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.accounts.Delete(r.Context(), id); err != nil {
		h.userError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) userError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, users.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error())
	case errors.Is(err, users.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, users.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", err.Error())
	case errors.Is(err, users.ErrLastAdmin):
		writeError(w, http.StatusConflict, "last_admin", err.Error())
	default:
		h.internalError(w, "user operation", err)
	}
}
