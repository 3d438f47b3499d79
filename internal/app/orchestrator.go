package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tivotools/tivofetch/internal/domain"
	"github.com/tivotools/tivofetch/internal/ports"
)

// Pause between successive transfers, to give the device a break. The final
// transfer is not followed by a pause.
const DefaultTransferPause = 30 * time.Second

// FetchRequest describes one orchestration run.
type FetchRequest struct {
	Title   string
	Episode string // empty downloads every episode of the title
	DestDir string
	SkipDir string // optional; see Plan
}

// Orchestrator composes discovery, enrichment, planning and transfer into
// one sequential run and owns the success/skip/changed summary.
type Orchestrator struct {
	logger   zerolog.Logger
	index    ports.RecordingIndex
	resolver ports.EpisodeResolver // nil disables enrichment
	transfer ports.Transferer
	pause    time.Duration
}

func NewOrchestrator(logger zerolog.Logger, index ports.RecordingIndex, resolver ports.EpisodeResolver, transfer ports.Transferer) *Orchestrator {
	return &Orchestrator{
		logger:   logger,
		index:    index,
		resolver: resolver,
		transfer: transfer,
		pause:    DefaultTransferPause,
	}
}

// WithPause overrides the inter-transfer pause, mainly for tests.
func (o *Orchestrator) WithPause(d time.Duration) *Orchestrator {
	o.pause = d
	return o
}

// Run executes discover -> enrich -> plan -> transfer -> summarize. Any
// fatal error aborts the whole batch; tolerant enrichment failures only
// leave a single recording's numbers unknown.
func (o *Orchestrator) Run(ctx context.Context, req FetchRequest) (domain.Result, error) {
	matches, err := o.index.Find(ctx, req.Title, req.Episode)
	if err != nil {
		return domain.Result{}, err
	}
	if len(matches) == 0 {
		return domain.Result{}, &CodedError{Code: "not_found", Message: "No recordings were found"}
	}
	o.logger.Info().Int("matches", len(matches)).Str("title", req.Title).Msg("recordings discovered")

	downloaded := 0
	for i := range matches {
		match := &matches[i]

		if o.resolver != nil && match.EpisodeTitle != "" {
			season, number, err := o.resolver.Resolve(ctx, match.Title, match.EpisodeTitle)
			if err != nil {
				return domain.Result{}, err
			}
			match.SetNumbers(season, number)
		}

		destPath, skip, err := Plan(*match, req.DestDir, req.SkipDir)
		if err != nil {
			return domain.Result{}, err
		}
		if skip {
			o.logger.Info().Str("dest", destPath).Msg("recording already present, skipping")
			continue
		}

		if err := o.transfer.Fetch(ctx, *match, destPath); err != nil {
			return domain.Result{}, err
		}
		downloaded++

		if downloaded < len(matches) {
			select {
			case <-ctx.Done():
				return domain.Result{}, ctx.Err()
			case <-time.After(o.pause):
			}
		}
	}

	if downloaded > 0 {
		return domain.Result{
			Msg:     fmt.Sprintf("%d recording(s) downloaded successfully", downloaded),
			Changed: true,
		}, nil
	}
	return domain.Result{
		Msg: fmt.Sprintf("%d recording(s) skipped", len(matches)),
	}, nil
}
