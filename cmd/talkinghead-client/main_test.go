package main

import (
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	flags := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{
		"-audio", "a.webm", "-image", "f.jpg", "-timeout", "1m",
	})

	assert.Equal(t, "a.webm", flags.audio)
	assert.Equal(t, "f.jpg", flags.image)
	assert.Equal(t, defaultURL, flags.url)
	assert.Equal(t, defaultOutput, flags.output)
	assert.Equal(t, time.Minute, flags.timeout)
	assert.False(t, flags.health)
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, validate(appFlags{audio: "a"}), errMissingInputs)
	assert.Error(t, validate(appFlags{audio: "/nope/a", image: "/nope/f"}))
}

func TestRun_SavesVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("mp4"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	audio := filepath.Join(dir, "a.webm")
	image := filepath.Join(dir, "f.jpg")
	require.NoError(t, os.WriteFile(audio, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(image, []byte("f"), 0o644))
	out := filepath.Join(dir, "out", "video.mp4")

	require.NoError(t, run(appFlags{url: srv.URL, audio: audio, image: image, output: out, timeout: 5 * time.Second}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "mp4", string(data))
}

func TestRun_HealthNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"not_ready","mode":"Wav2Lip"}`))
	}))
	defer srv.Close()

	err := run(appFlags{url: srv.URL, health: true, timeout: 5 * time.Second})
	assert.ErrorIs(t, err, errNotReady)
}
