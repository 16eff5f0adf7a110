package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/taskscope/taskscope/pkg/httputil"
	"github.com/taskscope/taskscope/pkg/middleware"
	"github.com/taskscope/taskscope/pkg/observability"
	"github.com/taskscope/taskscope/pkg/projects"
	"github.com/taskscope/taskscope/pkg/tasks"
)

// ProjectHandlers provides project CRUD endpoints
type ProjectHandlers struct {
	service *projects.Service
	tasks   *tasks.Service
	logger  *observability.Logger
}

// NewProjectHandlers creates the project handler set
func NewProjectHandlers(service *projects.Service, taskService *tasks.Service, logger *observability.Logger) *ProjectHandlers {
	return &ProjectHandlers{service: service, tasks: taskService, logger: logger}
}

// RegisterRoutes registers project routes on an authenticated router
func (h *ProjectHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/projects", h.list).Methods("GET")
	r.HandleFunc("/projects", h.create).Methods("POST")
	r.HandleFunc("/projects/{project_id}", h.get).Methods("GET")
	r.HandleFunc("/projects/{project_id}", h.update).Methods("PATCH", "PUT")
	r.HandleFunc("/projects/{project_id}", h.delete).Methods("DELETE")
	r.HandleFunc("/projects/{project_id}/check_permission", h.checkPermission).Methods("GET")
}

type projectCreateRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	MemberIDs   []int64 `json:"member_ids"`
}

type projectUpdateRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	MemberIDs   *[]int64 `json:"member_ids,omitempty"`
}

func (h *ProjectHandlers) list(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.List(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if result == nil {
		result = []*projects.Project{}
	}
	httputil.WriteSuccess(w, result)
}

func (h *ProjectHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req projectCreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	project, err := h.service.Create(r.Context(), middleware.GetIdentity(r), projects.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, project)
}

// projectDetail is the project representation with its tasks embedded
type projectDetail struct {
	*projects.Project
	Tasks []*tasks.Task `json:"tasks"`
}

func (h *ProjectHandlers) get(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "project_id")
	if !ok {
		return
	}
	identity := middleware.GetIdentity(r)

	project, err := h.service.Get(r.Context(), identity, projectID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	projectTasks, err := h.tasks.ListTasks(r.Context(), identity, projectID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if projectTasks == nil {
		projectTasks = []*tasks.Task{}
	}
	httputil.WriteSuccess(w, projectDetail{Project: project, Tasks: projectTasks})
}

func (h *ProjectHandlers) update(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "project_id")
	if !ok {
		return
	}
	var req projectUpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	project, err := h.service.Update(r.Context(), middleware.GetIdentity(r), projectID, projects.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

func (h *ProjectHandlers) delete(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "project_id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), middleware.GetIdentity(r), projectID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// checkPermission reports whether the caller owns the project without
// performing any mutation
func (h *ProjectHandlers) checkPermission(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "project_id")
	if !ok {
		return
	}

	if err := h.service.CheckPermission(r.Context(), middleware.GetIdentity(r), projectID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"is_owner": true})
}
