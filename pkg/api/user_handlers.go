package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/taskscope/taskscope/pkg/auth"
	"github.com/taskscope/taskscope/pkg/httputil"
	"github.com/taskscope/taskscope/pkg/middleware"
	"github.com/taskscope/taskscope/pkg/observability"
	"github.com/taskscope/taskscope/pkg/users"
)

// UserHandlers provides account endpoints
type UserHandlers struct {
	service *users.Service
	logger  *observability.Logger
}

// NewUserHandlers creates the user handler set
func NewUserHandlers(service *users.Service, logger *observability.Logger) *UserHandlers {
	return &UserHandlers{service: service, logger: logger}
}

// RegisterRoutes registers user routes on an authenticated router
func (h *UserHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/users", h.list).Methods("GET")
	r.HandleFunc("/users/me", h.me).Methods("GET")
	r.HandleFunc("/users/{user_id}", h.get).Methods("GET")
	r.HandleFunc("/users/{user_id}", h.update).Methods("PATCH", "PUT")
	r.Handle("/users/{user_id}", middleware.RequireAdmin(http.HandlerFunc(h.deactivate))).Methods("DELETE")
}

func (h *UserHandlers) list(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.List(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if result == nil {
		result = []*auth.User{}
	}
	httputil.WriteSuccess(w, result)
}

func (h *UserHandlers) me(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	user, err := h.service.Get(r.Context(), identity, identity.UserID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

func (h *UserHandlers) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	user, err := h.service.Get(r.Context(), middleware.GetIdentity(r), userID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

func (h *UserHandlers) update(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req users.UpdateInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.service.Update(r.Context(), middleware.GetIdentity(r), userID, req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

func (h *UserHandlers) deactivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.service.Deactivate(r.Context(), middleware.GetIdentity(r), userID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
