package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/talkinghead/internal/config"
	"github.com/ekisa-team/talkinghead/internal/service"
)

type mockGenerator struct {
	mock.Mock
}

// Generate drains both readers so the mock sees what the client uploaded.
func (m *mockGenerator) Generate(ctx context.Context, req service.Request) (*service.Result, error) {
	audio, _ := io.ReadAll(req.Audio)
	image, _ := io.ReadAll(req.Image)
	args := m.Called(string(audio), req.AudioFilename, string(image))
	res, _ := args.Get(0).(*service.Result)
	return res, args.Error(1)
}

type staticHealth service.HealthReport

func (s staticHealth) Report() service.HealthReport { return service.HealthReport(s) }

func newTestServer(t *testing.T, gen Generator, health HealthReporter, cfg config.ServerConfig) *httptest.Server {
	t.Helper()
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 1 << 20
	}
	if cfg.BodyReadTimeout == 0 {
		cfg.BodyReadTimeout = 5 * time.Second
	}
	handler, _ := NewRouter(cfg, Deps{Generator: gen, Health: health})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func multipartBody(t *testing.T, files map[string][2]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, f := range files {
		part, err := w.CreateFormFile(field, f[0])
		require.NoError(t, err)
		_, err = part.Write([]byte(f[1]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postGenerate(t *testing.T, srv *httptest.Server, files map[string][2]string) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, files)
	resp, err := srv.Client().Post(srv.URL+"/generate-talking-head", ct, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

var uploads = map[string][2]string{
	"audio": {"clip.webm", "audio-bytes"},
	"image": {"face.png", "image-bytes"},
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t, &mockGenerator{}, staticHealth{}, config.ServerConfig{})

	resp, err := srv.Client().Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "Wav2Lip", body["model"])
}

func TestHealth(t *testing.T) {
	report := service.HealthReport{
		Status:           service.HealthStatusNotReady,
		Mode:             service.ModeWav2Lip,
		Device:           "cuda",
		Wav2LipExists:    true,
		CheckpointExists: false,
	}
	var seen []service.HealthReport
	handler, _ := NewRouter(config.ServerConfig{}, Deps{
		Generator: &mockGenerator{},
		Health:    staticHealth(report),
		OnHealth:  func(r service.HealthReport) { seen = append(seen, r) },
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, "Wav2Lip", body["mode"])
	assert.Equal(t, "cuda", body["device"])
	assert.Equal(t, false, body["has_torch"])
	assert.Equal(t, false, body["model_loaded"])
	assert.Equal(t, true, body["wav2lip_exists"])
	assert.Equal(t, false, body["checkpoint_exists"])
	assert.Len(t, seen, 1)
}

func TestGenerate_Success(t *testing.T) {
	video := []byte("\x00\x00\x00\x18ftypisom")
	gen := &mockGenerator{}
	gen.On("Generate", "audio-bytes", "clip.webm", "image-bytes").
		Return(&service.Result{Token: "abc123", Video: video, Filename: service.VideoFilename}, nil)
	srv := newTestServer(t, gen, staticHealth{}, config.ServerConfig{})

	resp := postGenerate(t, srv, uploads)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, "inline; filename=talking_head.mp4", resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "abc123", resp.Header.Get("X-Request-Token"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, video, got)
	gen.AssertExpectations(t)
}

func TestGenerate_ErrorKinds(t *testing.T) {
	tests := []struct {
		kind   service.Kind
		status int
	}{
		{service.KindTranscodeFailure, http.StatusInternalServerError},
		{service.KindCheckpointMissing, http.StatusServiceUnavailable},
		{service.KindInferenceFailure, http.StatusInternalServerError},
		{service.KindInferenceTimeout, http.StatusGatewayTimeout},
		{service.KindOutputNotFound, http.StatusInternalServerError},
		{service.KindInvalidInput, http.StatusUnprocessableEntity},
		{service.KindOverloaded, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			gen := &mockGenerator{}
			gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(nil, &service.Error{
				Kind:    tt.kind,
				Stage:   service.StageInferring,
				Token:   "tok",
				Message: "something broke",
				Detail:  "stderr tail",
			})
			srv := newTestServer(t, gen, staticHealth{}, config.ServerConfig{})

			resp := postGenerate(t, srv, uploads)
			require.Equal(t, tt.status, resp.StatusCode)

			var body APIError
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, string(tt.kind), body.Kind)
			assert.Equal(t, tt.kind.Title(), body.Title)
			assert.Equal(t, "something broke: stderr tail", body.Detail)
			assert.Equal(t, "tok", body.Token)
			assert.Equal(t, "inferring", body.Stage)
		})
	}
}

func TestGenerate_MissingImage(t *testing.T) {
	gen := &mockGenerator{}
	srv := newTestServer(t, gen, staticHealth{}, config.ServerConfig{})

	resp := postGenerate(t, srv, map[string][2]string{"audio": {"clip.webm", "audio-bytes"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerate_RateLimited(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(&service.Result{Token: "t", Video: []byte("v"), Filename: service.VideoFilename}, nil)
	srv := newTestServer(t, gen, staticHealth{}, config.ServerConfig{
		RateLimit: config.RateLimitConfig{Requests: 1, Window: time.Minute},
	})

	assert.Equal(t, http.StatusOK, postGenerate(t, srv, uploads).StatusCode)

	resp := postGenerate(t, srv, uploads)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Other routes are not limited.
	health, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, &mockGenerator{}, staticHealth{}, config.ServerConfig{CORSOrigins: []string{"*"}})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/generate-talking-head", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "X-Request-Token")
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	handler := CORS([]string{"http://allowed.test"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://allowed.test")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "http://allowed.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_AllowAllOmitsCredentials(t *testing.T) {
	for _, origins := range [][]string{nil, {"*"}} {
		handler := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &mockGenerator{}, staticHealth{}, config.ServerConfig{})

	health, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = health.Body.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `talkinghead_http_request_duration_seconds_count{method="GET",path="/health",status="200"}`)
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t, &mockGenerator{}, staticHealth{}, config.ServerConfig{})

	resp, err := srv.Client().Get(srv.URL + "/openapi.json")
	require.NoError(t, err)
	defer resp.Body.Close()

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	paths := doc["paths"].(map[string]any)
	assert.Contains(t, paths, "/generate-talking-head")
	assert.Contains(t, paths, "/health")
}
