package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/clearproof/preflight/internal/auth"
)

const ctxClaims contextKey = "claims"

func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(ctxClaims).(*auth.Claims)
	return c
}

// withToken verifies a Bearer token and stores its claims in the context.
func (s *Server) withToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, CodeInvalidRequest, "missing bearer token", nil)
			return
		}
		claims, err := s.jwt.Verify(r.Context(), raw)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			msg := "token invalid"
			if errors.Is(err, auth.ErrTokenRevoked) {
				msg = "token revoked"
			}
			writeError(w, http.StatusUnauthorized, CodeInvalidRequest, msg, nil)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxClaims, claims)))
	}
}

type credentials struct {
	TenantName string `json:"tenant_name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body", nil)
		return
	}
	if body.TenantName == "" || body.Email == "" || len(body.Password) < 8 {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest,
			"tenant_name, email and a password of at least 8 characters are required", nil)
		return
	}

	result, err := s.users.Signup(r.Context(), body.TenantName, body.Email, body.Password)
	if errors.Is(err, auth.ErrEmailTaken) {
		writeError(w, http.StatusConflict, CodeConflict, "email already registered", nil)
		return
	}
	if errors.Is(err, auth.ErrBadCredentials) {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "malformed email", nil)
		return
	}
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"tenant":       result.Tenant,
		"user":         result.User,
		"access_token": result.Token,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body", nil)
		return
	}

	user, token, err := s.users.Login(r.Context(), body.Email, body.Password)
	if errors.Is(err, auth.ErrBadCredentials) || errors.Is(err, auth.ErrUserInactive) {
		writeError(w, http.StatusUnauthorized, CodeInvalidRequest, "invalid email or password", nil)
		return
	}
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "access_token": token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.Me(r.Context(), claimsFrom(r.Context()))
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.users.Logout(r.Context(), claimsFrom(r.Context())); err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logged_out": true})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, err := s.users.Refresh(r.Context(), claimsFrom(r.Context()))
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": token})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body", nil)
		return
	}
	if len(body.NewPassword) < 8 {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest,
			"new password must be at least 8 characters", nil)
		return
	}

	err := s.users.ChangePassword(r.Context(), claimsFrom(r.Context()), body.CurrentPassword, body.NewPassword)
	if errors.Is(err, auth.ErrBadCredentials) {
		writeError(w, http.StatusUnauthorized, CodeInvalidRequest, "current password incorrect", nil)
		return
	}
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": true})
}
