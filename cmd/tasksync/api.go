package main

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/services"
)

// apiHandler exposes the data facade over local REST for UI clients. Every
// response body is the facade's Result envelope.
type apiHandler struct {
	data  *services.DataService
	relay *Relay
}

func newMux(data *services.DataService, relay *Relay) *http.ServeMux {
	h := &apiHandler{data: data, relay: relay}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("POST /api/sync", h.sync)
	mux.HandleFunc("GET /api/queue", h.queue)

	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("POST /api/tasks/{id}/toggle", h.toggleTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.deleteTask)

	mux.HandleFunc("GET /api/folders", h.listFolders)
	mux.HandleFunc("POST /api/folders", h.createFolder)
	mux.HandleFunc("DELETE /api/folders/{id}", h.deleteFolder)

	mux.Handle("GET /events", relay)
	return mux
}

// statusFor maps a failed result to an HTTP status.
func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrValidation:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrSyncInProgress:
		return http.StatusConflict
	case apperrors.ErrOffline, apperrors.ErrNetwork:
		return http.StatusServiceUnavailable
	case apperrors.ErrSessionClosed:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeResult[T any](w http.ResponseWriter, okStatus int, r services.Result[T]) {
	if r.Error != nil {
		writeJSON(w, statusFor(r.Error.Code), r)
		return
	}
	writeJSON(w, okStatus, r)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeResult(w, http.StatusOK, services.Result[any]{
		Error: &services.ResultError{Code: apperrors.ErrValidation, Message: msg},
	})
}

// health handles GET /api/health
func (h *apiHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "tasksync",
		"clients": h.relay.ClientCount(),
	})
}

// status handles GET /api/status
func (h *apiHandler) status(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, h.data.SyncStatus())
}

// sync handles POST /api/sync
func (h *apiHandler) sync(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, h.data.ForceSync(r.Context()))
}

// queue handles GET /api/queue?parked=true
func (h *apiHandler) queue(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("parked") == "true" {
		writeResult(w, http.StatusOK, h.data.ParkedOperations())
		return
	}
	writeResult(w, http.StatusOK, h.data.PendingOperations())
}

// listTasks handles GET /api/tasks?folder=<id>
func (h *apiHandler) listTasks(w http.ResponseWriter, r *http.Request) {
	if folderID := r.URL.Query().Get("folder"); folderID != "" {
		writeResult(w, http.StatusOK, h.data.TasksInFolder(folderID))
		return
	}
	writeResult(w, http.StatusOK, h.data.ListTasks())
}

// createTask handles POST /api/tasks
func (h *apiHandler) createTask(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Status      models.Status   `json:"status"`
		Priority    models.Priority `json:"priority"`
		DueDate     *time.Time      `json:"dueDate"`
		FolderID    string          `json:"folderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	writeResult(w, http.StatusCreated, h.data.CreateTask(models.TaskInput{
		Title:       request.Title,
		Description: request.Description,
		Status:      request.Status,
		Priority:    request.Priority,
		DueDate:     request.DueDate,
		FolderID:    request.FolderID,
	}))
}

// toggleTask handles POST /api/tasks/{id}/toggle
func (h *apiHandler) toggleTask(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, h.data.ToggleTaskStatus(r.PathValue("id")))
}

// deleteTask handles DELETE /api/tasks/{id}
func (h *apiHandler) deleteTask(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, h.data.DeleteTask(r.PathValue("id")))
}

// listFolders handles GET /api/folders
func (h *apiHandler) listFolders(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, h.data.ListFolders())
}

// createFolder handles POST /api/folders
func (h *apiHandler) createFolder(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Name string `json:"name"`
		Icon string `json:"icon"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	writeResult(w, http.StatusCreated, h.data.CreateFolder(models.FolderInput{Name: request.Name, Icon: request.Icon}))
}

// deleteFolder handles DELETE /api/folders/{id}?cascade=true
func (h *apiHandler) deleteFolder(w http.ResponseWriter, r *http.Request) {
	cascade := r.URL.Query().Get("cascade") == "true"
	writeResult(w, http.StatusOK, h.data.DeleteFolder(r.PathValue("id"), cascade))
}
