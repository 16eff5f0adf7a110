package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/taskscope/taskscope/pkg/httputil"
	"github.com/taskscope/taskscope/pkg/middleware"
	"github.com/taskscope/taskscope/pkg/observability"
	"github.com/taskscope/taskscope/pkg/tasks"
)

// TaskHandlers provides task, comment and tag endpoints. Tasks and
// comments are nested under their project route; tags have both a nested
// and a global surface.
type TaskHandlers struct {
	service *tasks.Service
	logger  *observability.Logger
}

// NewTaskHandlers creates the task handler set
func NewTaskHandlers(service *tasks.Service, logger *observability.Logger) *TaskHandlers {
	return &TaskHandlers{service: service, logger: logger}
}

// RegisterRoutes registers task routes on an authenticated router
func (h *TaskHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/projects/{project_id}/tasks", h.listTasks).Methods("GET")
	r.HandleFunc("/projects/{project_id}/tasks", h.createTask).Methods("POST")
	r.HandleFunc("/projects/{project_id}/tasks/{task_id}", h.getTask).Methods("GET")
	r.HandleFunc("/projects/{project_id}/tasks/{task_id}", h.updateTask).Methods("PATCH", "PUT")
	r.HandleFunc("/projects/{project_id}/tasks/{task_id}", h.deleteTask).Methods("DELETE")

	r.HandleFunc("/projects/{project_id}/tasks/{task_id}/comments", h.listComments).Methods("GET")
	r.HandleFunc("/projects/{project_id}/tasks/{task_id}/comments", h.createComment).Methods("POST")
	r.HandleFunc("/projects/{project_id}/tasks/{task_id}/comments/{comment_id}", h.getComment).Methods("GET")
	r.HandleFunc("/projects/{project_id}/tasks/{task_id}/comments/{comment_id}", h.updateComment).Methods("PATCH", "PUT")
	r.HandleFunc("/projects/{project_id}/tasks/{task_id}/comments/{comment_id}", h.deleteComment).Methods("DELETE")

	r.HandleFunc("/projects/{project_id}/tasks/{task_id}/tags", h.listTaskTags).Methods("GET")
	r.HandleFunc("/projects/{project_id}/tasks/{task_id}/tags", h.attachTag).Methods("POST")
	r.HandleFunc("/projects/{project_id}/tasks/{task_id}/tags/{tag_id}", h.detachTag).Methods("DELETE")

	r.HandleFunc("/tags", h.listTags).Methods("GET")
	r.HandleFunc("/tags", h.createTag).Methods("POST")
	r.HandleFunc("/tags/{tag_id}", h.getTag).Methods("GET")
	r.HandleFunc("/tags/{tag_id}", h.updateTag).Methods("PATCH", "PUT")
	r.HandleFunc("/tags/{tag_id}", h.deleteTag).Methods("DELETE")
}

type taskRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	Status      tasks.Status `json:"status"`
	AssigneeIDs []int64      `json:"assigned_to_ids"`
	TagIDs      []int64      `json:"tag_ids"`
}

type taskUpdateRequest struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	DueDate     *time.Time    `json:"due_date,omitempty"`
	Status      *tasks.Status `json:"status,omitempty"`
	AssigneeIDs *[]int64      `json:"assigned_to_ids,omitempty"`
	TagIDs      *[]int64      `json:"tag_ids,omitempty"`
}

func (h *TaskHandlers) listTasks(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "project_id")
	if !ok {
		return
	}

	result, err := h.service.ListTasks(r.Context(), middleware.GetIdentity(r), projectID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if result == nil {
		result = []*tasks.Task{}
	}
	httputil.WriteSuccess(w, result)
}

func (h *TaskHandlers) createTask(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "project_id")
	if !ok {
		return
	}
	var req taskRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	task, err := h.service.CreateTask(r.Context(), middleware.GetIdentity(r), projectID, tasks.TaskInput{
		Name:        req.Name,
		Description: req.Description,
		DueDate:     req.DueDate,
		Status:      req.Status,
		AssigneeIDs: req.AssigneeIDs,
		TagIDs:      req.TagIDs,
	})
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, task)
}

func (h *TaskHandlers) getTask(w http.ResponseWriter, r *http.Request) {
	projectID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}

	task, err := h.service.GetTask(r.Context(), middleware.GetIdentity(r), projectID, taskID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, task)
}

func (h *TaskHandlers) updateTask(w http.ResponseWriter, r *http.Request) {
	projectID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}
	var req taskUpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	task, err := h.service.UpdateTask(r.Context(), middleware.GetIdentity(r), projectID, taskID, tasks.TaskUpdateInput{
		Name:        req.Name,
		Description: req.Description,
		DueDate:     req.DueDate,
		Status:      req.Status,
		AssigneeIDs: req.AssigneeIDs,
		TagIDs:      req.TagIDs,
	})
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, task)
}

func (h *TaskHandlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	projectID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteTask(r.Context(), middleware.GetIdentity(r), projectID, taskID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type commentRequest struct {
	Content string `json:"content"`
}

func (h *TaskHandlers) listComments(w http.ResponseWriter, r *http.Request) {
	projectID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}

	result, err := h.service.ListComments(r.Context(), middleware.GetIdentity(r), projectID, taskID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if result == nil {
		result = []*tasks.Comment{}
	}
	httputil.WriteSuccess(w, result)
}

func (h *TaskHandlers) createComment(w http.ResponseWriter, r *http.Request) {
	projectID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	comment, err := h.service.CreateComment(r.Context(), middleware.GetIdentity(r), projectID, taskID, req.Content)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, comment)
}

func (h *TaskHandlers) getComment(w http.ResponseWriter, r *http.Request) {
	projectID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}
	commentID, ok := httputil.ParsePathInt64OrError(w, r, "comment_id")
	if !ok {
		return
	}

	comment, err := h.service.GetComment(r.Context(), middleware.GetIdentity(r), projectID, taskID, commentID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, comment)
}

func (h *TaskHandlers) updateComment(w http.ResponseWriter, r *http.Request) {
	projectID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}
	commentID, ok := httputil.ParsePathInt64OrError(w, r, "comment_id")
	if !ok {
		return
	}
	var req commentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	comment, err := h.service.UpdateComment(r.Context(), middleware.GetIdentity(r), projectID, taskID, commentID, req.Content)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, comment)
}

func (h *TaskHandlers) deleteComment(w http.ResponseWriter, r *http.Request) {
	projectID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}
	commentID, ok := httputil.ParsePathInt64OrError(w, r, "comment_id")
	if !ok {
		return
	}

	if err := h.service.DeleteComment(r.Context(), middleware.GetIdentity(r), projectID, taskID, commentID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type tagRequest struct {
	Name string `json:"name"`
}

func (h *TaskHandlers) listTags(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ListTags(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if result == nil {
		result = []*tasks.Tag{}
	}
	httputil.WriteSuccess(w, result)
}

func (h *TaskHandlers) createTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tag, err := h.service.CreateTag(r.Context(), middleware.GetIdentity(r), req.Name)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, tag)
}

func (h *TaskHandlers) getTag(w http.ResponseWriter, r *http.Request) {
	tagID, ok := httputil.ParsePathInt64OrError(w, r, "tag_id")
	if !ok {
		return
	}

	tag, err := h.service.GetTag(r.Context(), middleware.GetIdentity(r), tagID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, tag)
}

func (h *TaskHandlers) updateTag(w http.ResponseWriter, r *http.Request) {
	tagID, ok := httputil.ParsePathInt64OrError(w, r, "tag_id")
	if !ok {
		return
	}
	var req tagRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tag, err := h.service.UpdateTag(r.Context(), middleware.GetIdentity(r), tagID, req.Name)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, tag)
}

func (h *TaskHandlers) deleteTag(w http.ResponseWriter, r *http.Request) {
	tagID, ok := httputil.ParsePathInt64OrError(w, r, "tag_id")
	if !ok {
		return
	}

	if err := h.service.DeleteTag(r.Context(), middleware.GetIdentity(r), tagID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *TaskHandlers) listTaskTags(w http.ResponseWriter, r *http.Request) {
	projectID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}

	result, err := h.service.ListTaskTags(r.Context(), middleware.GetIdentity(r), projectID, taskID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if result == nil {
		result = []*tasks.Tag{}
	}
	httputil.WriteSuccess(w, result)
}

func (h *TaskHandlers) attachTag(w http.ResponseWriter, r *http.Request) {
	projectID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}
	var req tagRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tag, err := h.service.AttachTag(r.Context(), middleware.GetIdentity(r), projectID, taskID, req.Name)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, tag)
}

func (h *TaskHandlers) detachTag(w http.ResponseWriter, r *http.Request) {
	projectID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}
	tagID, ok := httputil.ParsePathInt64OrError(w, r, "tag_id")
	if !ok {
		return
	}

	if err := h.service.DetachTag(r.Context(), middleware.GetIdentity(r), projectID, taskID, tagID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// taskPath extracts the nested project and task ids
func taskPath(w http.ResponseWriter, r *http.Request) (projectID, taskID int64, ok bool) {
	projectID, ok = httputil.ParsePathInt64OrError(w, r, "project_id")
	if !ok {
		return 0, 0, false
	}
	taskID, ok = httputil.ParsePathInt64OrError(w, r, "task_id")
	if !ok {
		return 0, 0, false
	}
	return projectID, taskID, true
}
