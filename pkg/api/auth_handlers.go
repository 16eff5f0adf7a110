package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/taskscope/taskscope/pkg/auth"
	"github.com/taskscope/taskscope/pkg/httputil"
	"github.com/taskscope/taskscope/pkg/observability"
	"github.com/taskscope/taskscope/pkg/users"
)

// AuthHandlers provides registration, login and token lifecycle endpoints
type AuthHandlers struct {
	users       *users.Service
	tokens      *auth.TokenManager
	revocations *auth.RevocationStore
	logger      *observability.Logger
}

// NewAuthHandlers creates the auth handler set
func NewAuthHandlers(users *users.Service, tokens *auth.TokenManager, revocations *auth.RevocationStore, logger *observability.Logger) *AuthHandlers {
	return &AuthHandlers{users: users, tokens: tokens, revocations: revocations, logger: logger}
}

// RegisterRoutes registers the unauthenticated auth routes
func (h *AuthHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/auth/register", h.register).Methods("POST")
	r.HandleFunc("/api/v1/auth/login", h.login).Methods("POST")
	r.HandleFunc("/api/v1/auth/refresh", h.refresh).Methods("POST")
	r.HandleFunc("/api/v1/auth/logout", h.logout).Methods("POST")
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req users.RegisterInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.users.Register(r.Context(), req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	pair, err := h.tokens.GenerateTokenPair(user)
	if err != nil {
		h.logger.WithError(err).Error("token generation failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued, so each refresh token works exactly once. The
// revocation insert is the claim; whichever concurrent refresh lands it
// first wins and every other holder of the same token gets a replay error.
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	claims, err := h.tokens.ValidateToken(req.RefreshToken, auth.TokenTypeRefresh)
	if err != nil {
		httputil.WriteUnauthorized(w, "invalid or expired refresh token")
		return
	}

	claimed, err := h.revocations.Revoke(r.Context(), claims.ID, claims.UserID, claims.ExpiresAt.Time)
	if err != nil {
		h.logger.WithError(err).Error("refresh token rotation failed")
		httputil.WriteInternalError(w, err)
		return
	}
	if !claimed {
		httputil.WriteUnauthorized(w, auth.ErrRevokedToken.Error())
		return
	}

	user, err := h.users.Get(r.Context(), serviceIdentity(claims), claims.UserID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if !user.IsActive {
		httputil.WriteUnauthorized(w, "account disabled")
		return
	}

	pair, err := h.tokens.GenerateTokenPair(user)
	if err != nil {
		h.logger.WithError(err).Error("token generation failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}

// logout revokes the presented refresh token
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	claims, err := h.tokens.ValidateToken(req.RefreshToken, auth.TokenTypeRefresh)
	if err != nil {
		httputil.WriteUnauthorized(w, "invalid or expired refresh token")
		return
	}

	if _, err := h.revocations.Revoke(r.Context(), claims.ID, claims.UserID, claims.ExpiresAt.Time); err != nil {
		h.logger.WithError(err).Error("token revocation failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
