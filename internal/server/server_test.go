package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/zipatlas/internal/boundary"
	"github.com/sells-group/zipatlas/internal/resilience"
	"github.com/sells-group/zipatlas/internal/store"
)

func square(cx, cy float64) *geom.MultiPolygon {
	ring := geom.NewLinearRingFlat(geom.XY, []float64{
		cx - 1, cy - 1,
		cx + 1, cy - 1,
		cx + 1, cy + 1,
		cx - 1, cy + 1,
		cx - 1, cy - 1,
	})
	poly := geom.NewPolygon(geom.XY)
	if err := poly.Push(ring); err != nil {
		panic(err)
	}
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	if err := mp.Push(poly); err != nil {
		panic(err)
	}
	return mp
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestServer(t *testing.T, provider boundary.Provider) http.Handler {
	t.Helper()
	srv := New(newTestStore(t), provider, Options{DataDir: t.TempDir()})
	return srv.Router()
}

// twoCodeProvider matches 00501 and 90210, the codes used by the test CSV.
func twoCodeProvider() boundary.Static {
	return boundary.Static{
		"00501": square(-73, 41),
		"90210": square(-118, 34),
	}
}

const testCSV = "zip,state,pop\n501,NY,100\n00544,NY,50\n90210,CA,200\n"

func multipartBody(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postGenerate(t *testing.T, h http.Handler, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, content, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/generate", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func getJSON(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if out != nil && rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
	}
	return rr
}

// waitForJob polls the job endpoint until the job reaches a terminal status.
func waitForJob(t *testing.T, h http.Handler, jobID string) store.Job {
	t.Helper()
	for range 150 {
		var job store.Job
		rr := getJSON(t, h, "/api/jobs/"+jobID, &job)
		require.Equal(t, http.StatusOK, rr.Code)
		if job.Status == store.JobStatusComplete || job.Status == store.JobStatusFailed {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal status", jobID)
	return store.Job{}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, twoCodeProvider())

	var body map[string]string
	rr := getJSON(t, h, "/health", &body)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "closed", body["boundary_breaker"])
}

func TestGenerate_RunsJobToCompletion(t *testing.T) {
	h := newTestServer(t, twoCodeProvider())

	rr := postGenerate(t, h, "input.csv", testCSV, map[string]string{
		"zip_column":   "zip",
		"group_column": "state",
		"retain":       "pop",
		"seed":         "42",
	})
	require.Equal(t, http.StatusAccepted, rr.Code)

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accepted))
	jobID := accepted["job_id"]
	require.NotEmpty(t, jobID)
	assert.Equal(t, "queued", accepted["status"])

	job := waitForJob(t, h, jobID)
	require.Equal(t, store.JobStatusComplete, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, 3, job.Result.Rows)
	assert.Equal(t, 3, job.Result.Requested)
	assert.Equal(t, 2, job.Result.Matched)
	assert.Equal(t, "zip", job.Params.ZIPColumn)

	// The three artifacts download, nothing else does.
	fileRR := getJSON(t, h, fmt.Sprintf("/api/jobs/%s/files/output_attributes.csv", jobID), nil)
	require.Equal(t, http.StatusOK, fileRR.Code)
	assert.Contains(t, fileRR.Header().Get("Content-Disposition"), "output_attributes.csv")
	assert.True(t, strings.HasPrefix(fileRR.Body.String(), "zip,state,pop"))

	zipRR := getJSON(t, h, fmt.Sprintf("/api/jobs/%s/files/output_shapefile.zip", jobID), nil)
	require.Equal(t, http.StatusOK, zipRR.Code)

	// The map payload is served from the sidecar.
	var payload map[string]json.RawMessage
	mapRR := getJSON(t, h, fmt.Sprintf("/api/jobs/%s/map", jobID), &payload)
	require.Equal(t, http.StatusOK, mapRR.Code)
	assert.Contains(t, payload, "map_style")
	assert.Contains(t, payload, "view_state")
	assert.Contains(t, payload, "data")

	var jobs []store.Job
	listRR := getJSON(t, h, "/api/jobs", &jobs)
	require.Equal(t, http.StatusOK, listRR.Code)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].ID)
}

func TestGenerate_MissingFile(t *testing.T) {
	h := newTestServer(t, twoCodeProvider())

	rr := postGenerate(t, h, "", "", map[string]string{
		"zip_column":   "zip",
		"group_column": "state",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "file is required")
}

func TestGenerate_MissingColumns(t *testing.T) {
	h := newTestServer(t, twoCodeProvider())

	rr := postGenerate(t, h, "input.csv", testCSV, map[string]string{
		"group_column": "state",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "zip_column is required")

	rr = postGenerate(t, h, "input.csv", testCSV, map[string]string{
		"zip_column": "zip",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "group_column is required")
}

func TestGenerate_UnsupportedFileType(t *testing.T) {
	h := newTestServer(t, twoCodeProvider())

	rr := postGenerate(t, h, "input.pdf", "%PDF-1.4", map[string]string{
		"zip_column":   "zip",
		"group_column": "state",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unsupported file type")
}

func TestGenerate_BadSeed(t *testing.T) {
	h := newTestServer(t, twoCodeProvider())

	rr := postGenerate(t, h, "input.csv", testCSV, map[string]string{
		"zip_column":   "zip",
		"group_column": "state",
		"seed":         "not-a-number",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "seed must be")
}

func TestGenerate_SchemaErrorFailsJob(t *testing.T) {
	h := newTestServer(t, twoCodeProvider())

	rr := postGenerate(t, h, "input.csv", testCSV, map[string]string{
		"zip_column":   "postal",
		"group_column": "state",
	})
	require.Equal(t, http.StatusAccepted, rr.Code)

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accepted))

	job := waitForJob(t, h, accepted["job_id"])
	require.Equal(t, store.JobStatusFailed, job.Status)
	assert.NotEmpty(t, job.Error)
	// The failed run still records the phase it died in.
	require.NotNil(t, job.Result)
	require.NotEmpty(t, job.Result.Phases)

	// A failed job has no map.
	mapRR := getJSON(t, h, "/api/jobs/"+job.ID+"/map", nil)
	assert.Equal(t, http.StatusConflict, mapRR.Code)
}

func TestJobMap_DegradedReturnsWarnings(t *testing.T) {
	// No boundaries at all: the job completes with warnings and no map.
	h := newTestServer(t, boundary.Static{})

	rr := postGenerate(t, h, "input.csv", testCSV, map[string]string{
		"zip_column":   "zip",
		"group_column": "state",
	})
	require.Equal(t, http.StatusAccepted, rr.Code)

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accepted))

	job := waitForJob(t, h, accepted["job_id"])
	require.Equal(t, store.JobStatusComplete, job.Status)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/map", nil)
	mapRR := httptest.NewRecorder()
	h.ServeHTTP(mapRR, req)
	require.Equal(t, http.StatusNotFound, mapRR.Code)

	var body struct {
		Error    string   `json:"error"`
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(mapRR.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "no visualization")
	assert.NotEmpty(t, body.Warnings)
}

func TestJobFile_UnknownName(t *testing.T) {
	h := newTestServer(t, twoCodeProvider())

	rr := getJSON(t, h, "/api/jobs/some-id/files/map.json", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown artifact name")
}

func TestJobFile_JobNotFound(t *testing.T) {
	h := newTestServer(t, twoCodeProvider())

	rr := getJSON(t, h, "/api/jobs/nonexistent/files/output_attributes.csv", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "job not found")
}

func TestGetJob_NotFound(t *testing.T) {
	h := newTestServer(t, twoCodeProvider())

	rr := getJSON(t, h, "/api/jobs/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListJobs_Empty(t *testing.T) {
	h := newTestServer(t, twoCodeProvider())

	var jobs []store.Job
	rr := getJSON(t, h, "/api/jobs", &jobs)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, jobs)
}

// failingProvider simulates a dead boundary backend.
type failingProvider struct{}

func (failingProvider) Lookup(context.Context, []string) (map[string]*geom.MultiPolygon, error) {
	return nil, eris.Wrap(boundary.ErrUnavailable, "connection refused")
}

func TestBreaker_TripsAfterRepeatedFailures(t *testing.T) {
	srv := New(newTestStore(t), failingProvider{}, Options{
		DataDir: t.TempDir(),
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: 2,
			ResetTimeout:     time.Hour,
		},
	})

	ctx := context.Background()
	for range 2 {
		_, err := srv.provider.Lookup(ctx, []string{"00501"})
		require.Error(t, err)
		assert.True(t, eris.Is(err, boundary.ErrUnavailable))
	}

	// The breaker is open now: the backend is no longer consulted.
	_, err := srv.provider.Lookup(ctx, []string{"00501"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, resilience.CircuitOpen, srv.breaker.State())
}
