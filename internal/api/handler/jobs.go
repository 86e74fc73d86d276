package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/roomscan/internal/api/middleware"
	"github.com/kiranshivaraju/roomscan/internal/api/response"
	"github.com/kiranshivaraju/roomscan/internal/apperr"
	"github.com/kiranshivaraju/roomscan/internal/jobs"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"
	CacheHeader         = "X-Cache"
	JobStatusHeader     = "X-Job-Status"

	defaultMaxUpload int64 = 50 << 20
)

// Jobs serves the job and stage routes.
type Jobs struct {
	jobs      JobService
	stages    StageRunner
	launcher  Launcher
	maxUpload int64
}

// NewJobs builds the job handlers. A nil launcher disables automatic runs
// after upload.
func NewJobs(svc JobService, stages StageRunner, launcher Launcher, maxUpload int64) *Jobs {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &Jobs{jobs: svc, stages: stages, launcher: launcher, maxUpload: maxUpload}
}

// Create handles POST /api/v1/jobs. The blueprint arrives as the multipart
// field "file". When "format" is absent it is taken from the file extension.
func (h *Jobs) Create(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUpload {
		h.tooLarge(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.tooLarge(w)
			return
		}
		response.Error(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "Invalid multipart body", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		response.Error(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "file is required", nil)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		response.Error(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "could not read file", nil)
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	}

	job, err := h.jobs.Create(r.Context(), jobs.CreateInput{
		Content:       content,
		Format:        format,
		Filename:      header.Filename,
		RequestID:     mw.GetRequestID(r.Context()),
		CorrelationID: r.Header.Get(CorrelationIDHeader),
		APIVersion:    APIVersion,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	if h.launcher != nil {
		h.launcher.AutoRun(job.ID)
	}
	response.Created(w, job)
}

func (h *Jobs) tooLarge(w http.ResponseWriter) {
	response.Error(w, http.StatusRequestEntityTooLarge, apperr.CodeInvalidRequest,
		"blueprint exceeds the upload limit", map[string]any{"max_bytes": h.maxUpload})
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, job)
}

// Cancel handles POST /api/v1/jobs/{jobID}/cancel.
func (h *Jobs) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, job)
}

// RunStage handles POST /api/v1/jobs/{jobID}/stages/{stage}. The body is the
// stage result exactly as serialized, so a cached preview is returned byte
// for byte. Cache state and job status travel in headers.
func (h *Jobs) RunStage(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "stage"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, apperr.CodeInvalidRequest,
			"stage must be 1, 2 or 3", nil)
		return
	}

	out, err := h.stages.RunStage(r.Context(), n, chi.URLParam(r, "jobID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	if out.Cached {
		w.Header().Set(CacheHeader, "HIT")
	} else {
		w.Header().Set(CacheHeader, "MISS")
	}
	if out.JobStatus != "" {
		w.Header().Set(JobStatusHeader, string(out.JobStatus))
	}
	response.Raw(w, out.Raw)
}
