// Package source downloads model checkpoints from remote sources.
package source

import (
	"context"
	"fmt"

	"github.com/ekisa-team/talkinghead/internal/config"
)

// Downloader places a checkpoint file at a destination path.
type Downloader interface {
	Download(ctx context.Context, dest string) error
}

// NewDownloader returns the downloader for the given source.
func NewDownloader(src config.CheckpointSource) (Downloader, error) {
	switch s := src.(type) {
	case config.HuggingFaceSource:
		d, err := NewHuggingFaceDownloader(s)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint source: %T", src)
	}
}
