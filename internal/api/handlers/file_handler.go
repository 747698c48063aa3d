package handlers

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	middleware "github.com/RPLaine/newsroom-processor/internal/api/middlewares"
	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/dispatcher"
	"github.com/RPLaine/newsroom-processor/internal/services"
)

const maxUploadSize = 52 << 20

// FileHandler moves files in and out of jobs and processes over plain
// HTTP, for clients that would rather not base64 them into an action.
type FileHandler struct {
	jobs      *services.JobService
	processes *services.ProcessService
	log       *zap.Logger
}

func NewFileHandler(jobs *services.JobService, processes *services.ProcessService, log *zap.Logger) *FileHandler {
	return &FileHandler{jobs: jobs, processes: processes, log: log}
}

// UploadJobFile stores a multipart "file" field as a file input of the job.
func (h *FileHandler) UploadJobFile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	jobID := chi.URLParam(r, "job_id")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, h.log, apperr.Validation("Invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.log, apperr.Validation("file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, h.log, apperr.Validation("Could not read the uploaded file"))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}

	job, err := h.jobs.LoadFile(r.Context(), userID, jobID, services.FileUpload{
		Name:        filepath.Base(header.Filename),
		Data:        data,
		ContentType: contentType,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, dispatcher.Response{
		Status:  dispatcher.StatusSuccess,
		Message: "File loaded",
		Data:    map[string]any{"job": job},
	})
}

// DownloadProcessFile serves the content of a generated file.
func (h *FileHandler) DownloadProcessFile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	processID := chi.URLParam(r, "process_id")
	fileID := chi.URLParam(r, "file_id")

	files, err := h.processes.ListFiles(r.Context(), userID, processID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	for _, f := range files {
		if f.ID != fileID {
			continue
		}
		contentType := mime.TypeByExtension(filepath.Ext(f.Filename))
		if contentType == "" || !strings.HasPrefix(contentType, "text/") && contentType != "application/json" {
			contentType = "text/plain; charset=utf-8"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Filename}))
		_, _ = io.WriteString(w, f.Content)
		return
	}
	writeError(w, h.log, apperr.NotFound("File not found"))
}
