package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/tivotools/tivofetch/internal/domain"
)

const (
	// Bounds the dial and the wait for response headers. The body copy runs
	// for as long as the recording is large.
	downloadTimeout = 120 * time.Second

	downloadChunkSize = 4096
)

// Transfer streams one recording from the device to disk. The body is
// copied in fixed-size chunks through a pending file and committed by
// atomic rename, so an interrupted run never leaves a partial file at the
// destination for a later skip check to mistake for a finished download.
type Transfer struct {
	logger  zerolog.Logger
	gateway *Gateway
	mak     string
}

func NewTransfer(logger zerolog.Logger, gateway *Gateway, mak string) *Transfer {
	return &Transfer{logger: logger, gateway: gateway, mak: mak}
}

func (t *Transfer) Fetch(ctx context.Context, match domain.RecordingMatch, destPath string) error {
	errorMsg := transferErrorMsg(match)

	resp, err := t.gateway.Send(ctx, VerbGet, match.Link, RequestOptions{
		Timeout:     downloadTimeout,
		StreamBody:  true,
		DigestUser:  tivoDigestUser,
		DigestPass:  t.mak,
		InsecureTLS: true,
		FailOnError: true,
		ErrorMsg:    errorMsg,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	pending, err := renameio.NewPendingFile(destPath, renameio.WithPermissions(0o644))
	if err != nil {
		return &CodedError{Code: "io_error", Message: errorMsg, Err: err}
	}
	defer pending.Cleanup()

	buf := make([]byte, downloadChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := pending.Write(buf[:n]); writeErr != nil {
				return &CodedError{Code: "io_error", Message: errorMsg, Err: writeErr}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return &CodedError{Code: "network_error", Message: errorMsg, Err: readErr}
		}
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return &CodedError{Code: "io_error", Message: errorMsg, Err: err}
	}
	t.logger.Info().Str("dest", destPath).Msg("recording downloaded")
	return nil
}

func transferErrorMsg(match domain.RecordingMatch) string {
	if match.EpisodeTitle != "" {
		return fmt.Sprintf("Downloading the episode %q from the series %q failed.", match.EpisodeTitle, match.Title)
	}
	return fmt.Sprintf("Downloading %q failed.", match.Title)
}
