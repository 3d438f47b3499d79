package app

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tivotools/tivofetch/internal/domain"
)

// Stripper converts .TiVo containers to standard MPEG by shelling out to
// the external TivoDecoder jar. It is a stateless, single-pass wrapper: one
// subprocess per file, skip when the output already exists.
type Stripper struct {
	logger      zerolog.Logger
	mak         string
	decoderPath string

	// runDecoder is swapped out in tests; the default execs java.
	runDecoder func(ctx context.Context, args []string) (stderr []byte, err error)
}

func NewStripper(logger zerolog.Logger, mak, decoderPath string) *Stripper {
	return &Stripper{
		logger:      logger,
		mak:         mak,
		decoderPath: decoderPath,
		runDecoder:  runJava,
	}
}

// WithRunner overrides the subprocess invocation, mainly for tests.
func (s *Stripper) WithRunner(run func(ctx context.Context, args []string) ([]byte, error)) *Stripper {
	if run != nil {
		s.runDecoder = run
	}
	return s
}

func runJava(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "java", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	err := cmd.Run()
	return []byte(stderr.String()), err
}

// StripRequest describes one stripping run. Source is a single .TiVo file
// or a directory of them; Destination, when set, must be the same kind of
// path as Source (file for file, directory for directory).
type StripRequest struct {
	Source      string
	Destination string
	Replace     bool // delete each source file after a successful strip
}

func (s *Stripper) Run(ctx context.Context, req StripRequest) (domain.Result, error) {
	if _, err := os.Stat(s.decoderPath); err != nil {
		return domain.Result{}, &CodedError{
			Code:    "invalid_params",
			Message: fmt.Sprintf("TivoDecoder.jar was not found at %q", s.decoderPath),
		}
	}
	srcInfo, err := os.Stat(req.Source)
	if err != nil {
		return domain.Result{}, &CodedError{Code: "invalid_params", Message: "The source does not exist"}
	}

	if req.Destination != "" {
		if destInfo, err := os.Stat(req.Destination); err == nil {
			if destInfo.IsDir() != srcInfo.IsDir() {
				return domain.Result{}, &CodedError{
					Code:    "invalid_params",
					Message: "The source and destination need to be the same type",
				}
			}
		}
	}

	sources, err := s.collectSources(req.Source, srcInfo.IsDir())
	if err != nil {
		return domain.Result{}, err
	}

	stripped := 0
	for _, src := range sources {
		out := outputPath(src, req.Destination, srcInfo.IsDir())
		converted, err := s.strip(ctx, src, out)
		if err != nil {
			return domain.Result{}, err
		}
		if !converted {
			s.logger.Info().Str("output", out).Msg("output already present, skipping")
			continue
		}
		stripped++
		if req.Replace {
			if err := os.Remove(src); err != nil {
				return domain.Result{}, &CodedError{Code: "io_error", Message: fmt.Sprintf("failed to remove %q", src), Err: err}
			}
		}
	}

	if stripped > 0 {
		return domain.Result{
			Msg:     fmt.Sprintf("%d recording(s) stripped successfully", stripped),
			Changed: true,
		}, nil
	}
	if len(sources) > 0 {
		return domain.Result{Msg: fmt.Sprintf("%d recordings were skipped", len(sources))}, nil
	}
	return domain.Result{Msg: "No recordings were found that matched the criteria"}, nil
}

func (s *Stripper) collectSources(source string, isDir bool) ([]string, error) {
	if !isDir {
		abs, err := filepath.Abs(source)
		if err != nil {
			return nil, &CodedError{Code: "io_error", Message: fmt.Sprintf("failed to resolve %q", source), Err: err}
		}
		return []string{abs}, nil
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, &CodedError{Code: "io_error", Message: fmt.Sprintf("failed to read the source directory %q", source), Err: err}
	}
	var sources []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), recordingExt) {
			sources = append(sources, filepath.Join(source, entry.Name()))
		}
	}
	return sources, nil
}

// outputPath places the .mpg next to the source unless a destination was
// given: a destination directory keeps the source stem, a destination file
// is used verbatim.
func outputPath(src, destination string, sourceIsDir bool) string {
	if destination == "" {
		return strings.TrimSuffix(src, filepath.Ext(src)) + ".mpg"
	}
	if sourceIsDir {
		base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + ".mpg"
		return filepath.Join(destination, base)
	}
	return destination
}

func (s *Stripper) strip(ctx context.Context, src, out string) (bool, error) {
	if _, err := os.Stat(out); err == nil {
		return false, nil
	}

	args := []string{"-jar", s.decoderPath, "-i", src, "-o", out, "-m", s.mak}
	s.logger.Info().Str("source", src).Str("output", out).Msg("stripping recording")
	stderr, err := s.runDecoder(ctx, args)
	if err != nil {
		return false, &CodedError{
			Code: "decoder_failed",
			Message: fmt.Sprintf("The TivoDecoder command failed. The following was called \"java %s\" and the error was %q",
				strings.Join(args, " "), string(stderr)),
			Err: err,
		}
	}
	return true, nil
}
