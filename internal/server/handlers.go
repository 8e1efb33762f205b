package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zipatlas/internal/export"
	"github.com/sells-group/zipatlas/internal/ingest"
	"github.com/sells-group/zipatlas/internal/pipeline"
	"github.com/sells-group/zipatlas/internal/store"
)

// mapFileName is the per-job visualization sidecar. It is not an export
// artifact: the files endpoint never serves it.
const mapFileName = "map.json"

const maxUploadBytes = 64 << 20

var supportedUploadExts = []string{".csv", ".tsv", ".txt", ".xlsx"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":           "ok",
		"boundary_breaker": s.breaker.State().String(),
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		writeError(w, http.StatusServiceUnavailable, "boundary provider not configured")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	zipColumn := strings.TrimSpace(r.FormValue("zip_column"))
	if zipColumn == "" {
		writeError(w, http.StatusBadRequest, "zip_column is required")
		return
	}
	groupColumn := strings.TrimSpace(r.FormValue("group_column"))
	if groupColumn == "" {
		writeError(w, http.StatusBadRequest, "group_column is required")
		return
	}

	var retain []string
	for _, v := range r.Form["retain"] {
		if v = strings.TrimSpace(v); v != "" {
			retain = append(retain, v)
		}
	}

	var seed uint64
	if v := r.FormValue("seed"); v != "" {
		seed, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "seed must be an unsigned integer")
			return
		}
	}
	var sampleK int
	if v := r.FormValue("sample_k"); v != "" {
		sampleK, err = strconv.Atoi(v)
		if err != nil || sampleK < 0 {
			writeError(w, http.StatusBadRequest, "sample_k must be a non-negative integer")
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !slices.Contains(supportedUploadExts, ext) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type %q", ext))
		return
	}

	inputPath, err := s.saveUpload(file, ext)
	if err != nil {
		s.log.Error("save upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}

	params := store.JobParams{
		InputFile:   inputPath,
		ZIPColumn:   zipColumn,
		GroupColumn: groupColumn,
		Retain:      retain,
		SampleK:     sampleK,
		Seed:        seed,
	}
	job, err := s.store.CreateJob(r.Context(), params)
	if err != nil {
		s.log.Error("create job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}

	go s.runJob(job)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) saveUpload(src io.Reader, ext string) (string, error) {
	dir := filepath.Join(s.opts.DataDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "server: create uploads dir")
	}

	path := filepath.Join(dir, uuid.New().String()+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "server: create upload file")
	}
	defer dst.Close() //nolint:errcheck

	if _, err := io.Copy(dst, src); err != nil {
		return "", eris.Wrap(err, "server: write upload file")
	}
	return path, nil
}

// runJob drives one generation job to a terminal state. It runs on the
// server's base context so in-flight jobs survive the request lifetime.
func (s *Server) runJob(job *store.Job) {
	ctx := s.runContext()
	log := s.log.With(zap.String("job_id", job.ID))

	if err := s.store.UpdateJobStatus(ctx, job.ID, store.JobStatusRunning); err != nil {
		log.Error("mark job running", zap.Error(err))
		return
	}

	tbl, err := ingest.ReadFile(ctx, job.Params.InputFile, ingest.Options{})
	if err != nil {
		s.failJob(ctx, job.ID, err, nil)
		return
	}

	sampleK := job.Params.SampleK
	if sampleK <= 0 {
		sampleK = s.opts.SampleK
	}

	result, err := pipeline.Run(ctx, tbl, pipeline.Options{
		ZIPColumn:   job.Params.ZIPColumn,
		GroupColumn: job.Params.GroupColumn,
		Retain:      job.Params.Retain,
		OutDir:      s.jobDir(job.ID),
		SampleK:     sampleK,
		Seed:        job.Params.Seed,
		Parallelism: s.opts.Parallelism,
		Provider:    s.provider,
	})
	if err != nil {
		s.failJob(ctx, job.ID, err, result)
		return
	}

	if result.Viz != nil {
		if err := s.writeMapPayload(job.ID, result); err != nil {
			log.Warn("write map payload", zap.Error(err))
		}
	}

	if err := s.store.UpdateJobResult(ctx, job.ID, result); err != nil {
		log.Error("store job result", zap.Error(err))
		return
	}
	log.Info("job complete",
		zap.Int("rows", result.Rows),
		zap.Int("matched", result.Matched),
		zap.Int("warnings", len(result.Warnings)),
	)
}

func (s *Server) failJob(ctx context.Context, jobID string, cause error, result *pipeline.Result) {
	s.log.Error("job failed", zap.String("job_id", jobID), zap.Error(cause))
	if err := s.store.FailJob(ctx, jobID, cause.Error(), result); err != nil {
		s.log.Error("mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Server) writeMapPayload(jobID string, result *pipeline.Result) error {
	data, err := json.Marshal(result.Viz)
	if err != nil {
		return eris.Wrap(err, "server: encode map payload")
	}
	path := filepath.Join(s.jobDir(jobID), mapFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "server: write map payload")
	}
	return nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		Status: store.JobStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.log.Error("list jobs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list jobs")
		return
	}
	if jobs == nil {
		jobs = []store.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !slices.Contains(export.Names(), name) {
		writeError(w, http.StatusNotFound, "unknown artifact name")
		return
	}

	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	path := filepath.Join(s.jobDir(job.ID), name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "artifact not available")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

func (s *Server) handleJobMap(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Status != store.JobStatusComplete {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}

	data, err := os.ReadFile(filepath.Join(s.jobDir(job.ID), mapFileName))
	if err != nil {
		var warnings []string
		if job.Result != nil {
			warnings = job.Result.Warnings
		}
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":    "no visualization for this job",
			"warnings": warnings,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// lookupJob resolves {jobID} or writes the error response and returns false.
func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*store.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return nil, false
		}
		s.log.Error("get job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load job")
		return nil, false
	}
	return job, true
}
