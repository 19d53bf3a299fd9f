// Package client is a Go client for the talking-head HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ekisa-team/talkinghead/internal/service"
)

const (
	generatePath = "/generate-talking-head"
	healthPath   = "/health"
)

// Error is a non-2xx response from the server.
type Error struct {
	StatusCode int    `json:"status"`
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Token      string `json:"token"`
	Stage      string `json:"stage"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("server returned %d", e.StatusCode)
	if e.Kind != "" {
		msg += " " + e.Kind
	}
	if e.Stage != "" {
		msg += " at " + e.Stage
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Video is a generated video.
type Video struct {
	Token    string
	Filename string
	Data     []byte
}

// Client calls the talking-head API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client. timeout must cover a whole generation.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Health fetches the readiness report.
func (c *Client) Health(ctx context.Context) (service.HealthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return service.HealthReport{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return service.HealthReport{}, fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return service.HealthReport{}, decodeError(resp)
	}

	var report service.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return service.HealthReport{}, fmt.Errorf("decode health report: %w", err)
	}
	return report, nil
}

// GenerateFiles uploads the audio and image files at the given paths.
func (c *Client) GenerateFiles(ctx context.Context, audioPath, imagePath string) (*Video, error) {
	audio, err := os.Open(audioPath)
	if err != nil {
		return nil, err
	}
	defer audio.Close()

	image, err := os.Open(imagePath)
	if err != nil {
		return nil, err
	}
	defer image.Close()

	return c.Generate(ctx, filepath.Base(audioPath), audio, filepath.Base(imagePath), image)
}

// Generate uploads audio and image and returns the produced video.
func (c *Client) Generate(ctx context.Context, audioName string, audio io.Reader, imageName string, image io.Reader) (*Video, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := addFile(w, "audio", audioName, audio); err != nil {
		return nil, err
	}
	if err := addFile(w, "image", imageName, image); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read video: %w", err)
	}

	return &Video{
		Token:    resp.Header.Get("X-Request-Token"),
		Filename: filenameFrom(resp.Header.Get("Content-Disposition")),
		Data:     data,
	}, nil
}

func addFile(w *multipart.Writer, field, name string, r io.Reader) error {
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("read %s: %w", field, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	e := &Error{}
	if err := json.Unmarshal(raw, e); err != nil || (e.Title == "" && e.Kind == "") {
		e = &Error{Detail: strings.TrimSpace(string(raw))}
	}
	e.StatusCode = resp.StatusCode
	return e
}

func filenameFrom(disposition string) string {
	for _, part := range strings.Split(disposition, ";") {
		part = strings.TrimSpace(part)
		if name, ok := strings.CutPrefix(part, "filename="); ok {
			return strings.Trim(name, `"`)
		}
	}
	return service.VideoFilename
}
