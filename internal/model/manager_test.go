package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/talkinghead/internal/config"
)

type mockDownloader struct {
	mock.Mock
}

func (m *mockDownloader) Download(ctx context.Context, dest string) error {
	args := m.Called(ctx, dest)
	return args.Error(0)
}

func TestEnsure_Present(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wav2lip_gan.pth")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))

	dl := &mockDownloader{}
	m := NewManager(config.ModelConfig{CheckpointPath: path}, WithDownloader(dl))

	cp, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, cp.Status)
	assert.Equal(t, int64(7), cp.Size)
	assert.False(t, cp.CheckedAt.IsZero())
	dl.AssertNotCalled(t, "Download", mock.Anything, mock.Anything)
}

func TestEnsure_MissingWithoutSource(t *testing.T) {
	m := NewManager(config.ModelConfig{CheckpointPath: filepath.Join(t.TempDir(), "missing.pth")})

	cp, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusMissing, cp.Status)
	assert.False(t, cp.Present())
}

func TestEnsure_Downloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wav2lip_gan.pth")
	dl := &mockDownloader{}
	dl.On("Download", mock.Anything, path).Run(func(args mock.Arguments) {
		require.NoError(t, os.WriteFile(path, []byte("w"), 0o644))
	}).Return(nil).Once()

	m := NewManager(config.ModelConfig{CheckpointPath: path}, WithDownloader(dl))

	cp, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, cp.Status)
	dl.AssertExpectations(t)
}

func TestEnsure_DownloadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wav2lip_gan.pth")
	dl := &mockDownloader{}
	dl.On("Download", mock.Anything, path).Return(errors.New("network down"))

	m := NewManager(config.ModelConfig{CheckpointPath: path}, WithDownloader(dl))

	cp, err := m.Ensure(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, cp.Status)

	// Failure sticks until the file shows up.
	assert.Equal(t, StatusFailed, m.Check().Status)
	require.NoError(t, os.WriteFile(path, []byte("w"), 0o644))
	assert.Equal(t, StatusPresent, m.Check().Status)
}

func TestEnsure_DownloadLeavesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wav2lip_gan.pth")
	dl := &mockDownloader{}
	dl.On("Download", mock.Anything, path).Return(nil)

	m := NewManager(config.ModelConfig{CheckpointPath: path}, WithDownloader(dl))

	_, err := m.Ensure(context.Background())
	require.ErrorIs(t, err, ErrCheckpointMissing)
	assert.Equal(t, StatusFailed, m.Snapshot().Status)
}

func TestCheck_DirectoryIsNotACheckpoint(t *testing.T) {
	m := NewManager(config.ModelConfig{CheckpointPath: t.TempDir()})
	assert.Equal(t, StatusMissing, m.Check().Status)
}
