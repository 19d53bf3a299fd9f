package http

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/talkinghead/internal/service"
)

const headerRequestToken = "X-Request-Token"

// Generator produces talking-head videos.
type Generator interface {
	Generate(ctx context.Context, req service.Request) (*service.Result, error)
}

// HealthReporter reports readiness.
type HealthReporter interface {
	Report() service.HealthReport
}

type (
	RootResponseDTO struct {
		Status string `json:"status" example:"running"`
		Model  string `json:"model"  example:"Wav2Lip"`
	}
)

type (
	RootOutput struct {
		Body RootResponseDTO
	}

	HealthOutput struct {
		Body service.HealthReport
	}

	GenerateInput struct {
		RawBody huma.MultipartFormFiles[struct {
			Audio huma.FormFile `form:"audio" required:"true" doc:"Speech audio in any format ffmpeg can read"`
			Image huma.FormFile `form:"image" required:"true" doc:"Face image (JPEG, PNG, GIF, BMP or WebP)"`
		}]
	}

	GenerateOutput struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		CacheControl       string `header:"Cache-Control"`
		RequestToken       string `header:"X-Request-Token"`
		Body               []byte
	}
)

// TalkingHeadHandler handles HTTP requests for talking-head generation.
type TalkingHeadHandler struct {
	generator Generator
	health    HealthReporter
	onHealth  func(service.HealthReport)
}

// Limits bounds the generate operation.
type Limits struct {
	MaxUploadBytes  int64
	BodyReadTimeout time.Duration
}

// NewTalkingHeadHandler creates a new TalkingHeadHandler and registers its operations.
func NewTalkingHeadHandler(api huma.API, generator Generator, health HealthReporter, limits Limits, onHealth func(service.HealthReport)) *TalkingHeadHandler {
	h := &TalkingHeadHandler{
		generator: generator,
		health:    health,
		onHealth:  onHealth,
	}

	huma.Register(api, huma.Operation{
		OperationID:   "root",
		Method:        http.MethodGet,
		Path:          "/",
		Summary:       "Service banner",
		Tags:          []string{"health"},
		DefaultStatus: http.StatusOK,
	}, h.handleRoot)

	huma.Register(api, huma.Operation{
		OperationID:   "health",
		Method:        http.MethodGet,
		Path:          "/health",
		Summary:       "Readiness of the lip-sync tool and checkpoint",
		Tags:          []string{"health"},
		DefaultStatus: http.StatusOK,
	}, h.handleHealth)

	huma.Register(api, huma.Operation{
		OperationID:     "generate-talking-head",
		Method:          http.MethodPost,
		Path:            "/generate-talking-head",
		Summary:         "Generate a lip-synced video from audio and a face image",
		Tags:            []string{"talking-head"},
		DefaultStatus:   http.StatusOK,
		MaxBodyBytes:    limits.MaxUploadBytes,
		BodyReadTimeout: limits.BodyReadTimeout,
		Errors: []int{
			http.StatusUnprocessableEntity,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "MP4 video",
				Content: map[string]*huma.MediaType{
					"video/mp4": {Schema: &huma.Schema{Type: huma.TypeString, Format: "binary"}},
				},
			},
		},
	}, h.handleGenerate)

	return h
}

func (h *TalkingHeadHandler) handleRoot(_ context.Context, _ *struct{}) (*RootOutput, error) {
	return &RootOutput{
		Body: RootResponseDTO{Status: "running", Model: service.ModeWav2Lip},
	}, nil
}

func (h *TalkingHeadHandler) handleHealth(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	report := h.health.Report()
	if h.onHealth != nil {
		h.onHealth(report)
	}

	return &HealthOutput{Body: report}, nil
}

// handleGenerate handles the generate-talking-head operation.
func (h *TalkingHeadHandler) handleGenerate(ctx context.Context, input *GenerateInput) (*GenerateOutput, error) {
	formData := input.RawBody.Data()
	audio, image := formData.Audio, formData.Image

	if !audio.IsSet {
		return nil, invalidInput("audio file is required")
	}
	defer audio.Close()
	if !image.IsSet {
		return nil, invalidInput("image file is required")
	}
	defer image.Close()

	res, err := h.generator.Generate(ctx, service.Request{
		Audio:         audio,
		AudioFilename: audio.Filename,
		Image:         image,
	})
	if err != nil {
		return nil, newAPIError(err)
	}

	return &GenerateOutput{
		ContentType:        "video/mp4",
		ContentDisposition: "inline; filename=" + res.Filename,
		CacheControl:       "no-cache",
		RequestToken:       res.Token,
		Body:               res.Video,
	}, nil
}
