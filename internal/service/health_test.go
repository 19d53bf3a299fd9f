package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ekisa-team/talkinghead/internal/backend/wav2lip"
)

type fakeInstall bool

func (f fakeInstall) Installed() bool { return bool(f) }

type mockProber struct {
	mock.Mock
}

func (m *mockProber) Probe(ctx context.Context) (wav2lip.RuntimeInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(wav2lip.RuntimeInfo), args.Error(1)
}

func TestHealth_Report(t *testing.T) {
	tests := []struct {
		name       string
		installed  bool
		checkpoint bool
		want       string
	}{
		{"ready", true, true, HealthStatusHealthy},
		{"no tool", false, true, HealthStatusNotReady},
		{"no checkpoint", true, false, HealthStatusNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			f.checkpointPresent(tt.checkpoint)

			report := NewHealth(fakeInstall(tt.installed), f.checkpoints, "cuda").Report()
			assert.Equal(t, tt.want, report.Status)
			assert.Equal(t, ModeWav2Lip, report.Mode)
			assert.Equal(t, tt.installed, report.Wav2LipExists)
			assert.Equal(t, tt.checkpoint, report.CheckpointExists)
			assert.Equal(t, report.Ready(), report.ModelLoaded)
			assert.Equal(t, "cuda", report.Device)
			assert.False(t, report.HasTorch)
		})
	}
}

func TestHealth_ProbeRuntime(t *testing.T) {
	f := newFixture(t, Options{})
	f.checkpointPresent(true)
	h := NewHealth(fakeInstall(true), f.checkpoints, "cuda")

	prober := &mockProber{}
	prober.On("Probe", mock.Anything).Return(wav2lip.RuntimeInfo{HasTorch: true, Device: "cpu"}, nil).Once()
	h.ProbeRuntime(context.Background(), prober)

	report := h.Report()
	assert.True(t, report.HasTorch)
	assert.Equal(t, "cpu", report.Device)
	prober.AssertExpectations(t)
}

func TestHealth_ProbeRuntimeFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.checkpointPresent(true)
	h := NewHealth(fakeInstall(true), f.checkpoints, "cuda")

	prober := &mockProber{}
	prober.On("Probe", mock.Anything).Return(wav2lip.RuntimeInfo{}, errors.New("no torch"))
	h.ProbeRuntime(context.Background(), prober)

	report := h.Report()
	assert.False(t, report.HasTorch)
	assert.Equal(t, "cuda", report.Device)
}
