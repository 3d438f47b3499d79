package ports

import (
	"context"

	"github.com/tivotools/tivofetch/internal/domain"
)

// RecordingIndex discovers recordings on the device matching a title and,
// optionally, an episode title.
type RecordingIndex interface {
	Find(ctx context.Context, title, episode string) ([]domain.RecordingMatch, error)
}

// EpisodeResolver maps a (series, episode title) pair to season and episode
// numbers. A tolerant implementation may report (0, 0, nil) when the pair
// cannot be resolved.
type EpisodeResolver interface {
	Resolve(ctx context.Context, series, episode string) (season, number int, err error)
}

// Transferer downloads one recording to the given destination path.
type Transferer interface {
	Fetch(ctx context.Context, match domain.RecordingMatch, destPath string) error
}
