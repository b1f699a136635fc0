package libraries

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shelfhq/shelf/pkg/httputil"
	"github.com/shelfhq/shelf/pkg/observability"
	"github.com/shelfhq/shelf/pkg/storage"
	"github.com/shelfhq/shelf/pkg/users"
)

// Handlers exposes library and file operations over HTTP. All routes
// require an authenticated user in the request context.
type Handlers struct {
	manager *Manager
	logger  *observability.Logger
}

// NewHandlers creates the library HTTP handlers
func NewHandlers(manager *Manager, logger *observability.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		logger:  logger.WithField("component", "library-handlers"),
	}
}

// RegisterRoutes mounts the library endpoints on the router
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/repos", h.HandleListRepos).Methods(http.MethodGet)

	r.HandleFunc("/api/libraries", h.HandleList).Methods(http.MethodGet)
	r.HandleFunc("/api/libraries", h.HandleCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/libraries/{library_id}", h.HandleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/libraries/{library_id}", h.HandleDelete).Methods(http.MethodDelete)

	r.HandleFunc("/api/libraries/{library_id}/files", h.HandleListFiles).Methods(http.MethodGet)
	r.HandleFunc("/api/libraries/{library_id}/files", h.HandleUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/libraries/{library_id}/files", h.HandleDeleteFile).Methods(http.MethodDelete)
	r.HandleFunc("/api/libraries/{library_id}/files/download", h.HandleDownload).Methods(http.MethodGet)
	r.HandleFunc("/api/libraries/{library_id}/files/move", h.HandleMove).Methods(http.MethodPost)
	r.HandleFunc("/api/libraries/{library_id}/touch", h.HandleTouch).Methods(http.MethodPost)
}

// authorize loads the library and checks the requester owns it
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request) (*LibraryWithRepo, bool) {
	user := users.FromContext(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}

	libraryID, ok := httputil.ParsePathStringOrError(w, r, "library_id")
	if !ok {
		return nil, false
	}

	lib, err := h.manager.Get(r.Context(), libraryID)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	if lib.OwnerID != user.ID {
		// Existence of other users' libraries is not disclosed
		httputil.WriteNotFoundError(w, "library not found")
		return nil, false
	}
	return lib, true
}

// HandleList returns the requester's libraries
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	user := users.FromContext(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	libs, err := h.manager.List(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if libs == nil {
		libs = []*Library{}
	}
	httputil.WriteSuccess(w, libs)
}

// HandleListRepos returns the repos a library can be created on
func (h *Handlers) HandleListRepos(w http.ResponseWriter, r *http.Request) {
	if users.FromContext(r.Context()) == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	repos, err := h.manager.ListRepos(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if repos == nil {
		repos = []*Repo{}
	}
	httputil.WriteSuccess(w, repos)
}

type createLibraryRequest struct {
	Name   string `json:"name"`
	RepoID string `json:"repo_id"`
}

// HandleCreate creates a library owned by the requester
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user := users.FromContext(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req createLibraryRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.RepoID, "repo_id") {
		return
	}

	lib := &Library{Name: req.Name, OwnerID: user.ID, RepoID: req.RepoID}
	if err := h.manager.Create(r.Context(), lib); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, lib)
}

// HandleGet returns a library with its repo
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	lib, ok := h.authorize(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, lib)
}

// HandleDelete removes a library record
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	lib, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if err := h.manager.Delete(r.Context(), lib.ID); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// HandleListFiles lists entries under the path query parameter
func (h *Handlers) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	lib, ok := h.authorize(w, r)
	if !ok {
		return
	}

	path := httputil.ParseQueryString(r, "path", "")
	infos, err := h.manager.ListFiles(r.Context(), lib.ID, path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if infos == nil {
		infos = []storage.FileInfo{}
	}
	httputil.WriteSuccess(w, infos)
}

// HandleTouch creates an empty file
func (h *Handlers) HandleTouch(w http.ResponseWriter, r *http.Request) {
	lib, ok := h.authorize(w, r)
	if !ok {
		return
	}

	path := httputil.ParseQueryString(r, "path", "")
	if !httputil.RequireNonEmpty(w, path, "path") {
		return
	}

	if err := h.manager.TouchFile(r.Context(), lib.ID, path); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// HandleDownload streams a file's content
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	lib, ok := h.authorize(w, r)
	if !ok {
		return
	}

	path := httputil.ParseQueryString(r, "path", "")
	if !httputil.RequireNonEmpty(w, path, "path") {
		return
	}

	rc, err := h.manager.OpenFile(r.Context(), lib.ID, path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WithError(err).Warn("download interrupted")
	}
}

// HandleUpload stores the request body at the path query parameter
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	lib, ok := h.authorize(w, r)
	if !ok {
		return
	}

	path := httputil.ParseQueryString(r, "path", "")
	if !httputil.RequireNonEmpty(w, path, "path") {
		return
	}

	if err := h.manager.WriteFile(r.Context(), lib.ID, path, r.Body); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// HandleMove renames a file within the library
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	lib, ok := h.authorize(w, r)
	if !ok {
		return
	}

	from := httputil.ParseQueryString(r, "from", "")
	to := httputil.ParseQueryString(r, "to", "")
	if !httputil.RequireNonEmpty(w, from, "from") || !httputil.RequireNonEmpty(w, to, "to") {
		return
	}

	if err := h.manager.MoveFile(r.Context(), lib.ID, from, to); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// HandleDeleteFile removes a file
func (h *Handlers) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	lib, ok := h.authorize(w, r)
	if !ok {
		return
	}

	path := httputil.ParseQueryString(r, "path", "")
	if !httputil.RequireNonEmpty(w, path, "path") {
		return
	}

	if err := h.manager.DeleteFile(r.Context(), lib.ID, path); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// writeError maps domain errors onto HTTP responses
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrLibraryNotFound):
		httputil.WriteNotFoundError(w, "library not found")
	case errors.Is(err, ErrRepoNotFound):
		httputil.WriteNotFoundError(w, "repo not found")
	case errors.Is(err, storage.ErrNotFound):
		httputil.WriteNotFoundError(w, "file not found")
	case errors.Is(err, storage.ErrInvalidPath):
		httputil.WriteBadRequest(w, "invalid path")
	default:
		h.logger.WithError(err).Error("library operation failed")
		httputil.WriteInternalError(w, errors.New("storage operation failed"))
	}
}
