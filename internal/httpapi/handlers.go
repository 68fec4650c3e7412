package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/streamdl/streamdl/internal/jobs"
)

type submitRequest struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	job, err := s.manager.Submit(r.Context(), userFrom(r), req.URL, req.Kind)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.manager.GetStatus(r.Context(), chi.URLParam(r, "jobID"), userFrom(r))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.manager.Cancel(r.Context(), jobID, userFrom(r)); err != nil {
		writeJobError(w, err)
		return
	}
	view, err := s.manager.GetStatus(r.Context(), jobID, userFrom(r))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.manager.FetchResult(r.Context(), chi.URLParam(r, "jobID"), userFrom(r))
	if err != nil {
		writeJobError(w, err)
		return
	}

	f, err := os.Open(artifact.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "artifact is no longer available")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentTypeFor(artifact.Name))
	w.Header().Set("Content-Disposition", contentDisposition(artifact.Name))
	http.ServeContent(w, r, artifact.Name, artifact.ModTime, f)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 10)
	writeJSON(w, http.StatusOK, s.manager.History(r.Context(), userFrom(r), page, limit))
}

func (s *Server) handleAdminList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 500)
	writeJSON(w, http.StatusOK, s.manager.AllJobs(r.Context(), limit))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// contentDisposition carries the artifact name in both the plain quoted
// form and the RFC 5987 form so non-ASCII titles survive every client.
func contentDisposition(name string) string {
	fallback := make([]rune, 0, len(name))
	for _, r := range name {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			fallback = append(fallback, '_')
			continue
		}
		fallback = append(fallback, r)
	}
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		string(fallback), url.PathEscape(name))
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".zip":
		return "application/zip"
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	default:
		return "application/octet-stream"
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	var jerr *jobs.Error
	if !errors.As(err, &jerr) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeError(w, httpStatusFor(jerr.Kind), jerr.Message)
}

func httpStatusFor(kind jobs.ErrorKind) int {
	switch kind {
	case jobs.ErrInvalidInput:
		return http.StatusBadRequest
	case jobs.ErrNotFound:
		return http.StatusNotFound
	case jobs.ErrInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
