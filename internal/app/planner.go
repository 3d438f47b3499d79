package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tivotools/tivofetch/internal/domain"
)

const recordingExt = ".TiVo"

// FileName computes the canonical destination name for a recording. The
// format is load-bearing: downstream tooling matches on it, so it must stay
// byte-identical for identical inputs.
func FileName(m domain.RecordingMatch) string {
	if season, episode, ok := m.Numbers(); ok {
		return fmt.Sprintf("%s - S%02dE%02d - %s%s", m.Title, season, episode, m.EpisodeTitle, recordingExt)
	}
	if m.EpisodeTitle != "" {
		return fmt.Sprintf("%s - %s%s", m.Title, m.EpisodeTitle, recordingExt)
	}
	return m.Title + recordingExt
}

// Plan decides whether a recording still needs fetching and where it goes.
//
// The skip-check directory covers recordings that were downloaded earlier
// and have since been post-processed and moved, typically with a different
// extension; any regular file whose stem equals the computed stem counts.
// Only then is the destination itself checked, so reruns stay idempotent
// even after outputs were relocated.
func Plan(m domain.RecordingMatch, destDir, skipDir string) (destPath string, skip bool, err error) {
	fileName := FileName(m)
	destPath = filepath.Join(destDir, fileName)

	if skipDir != "" {
		if info, statErr := os.Stat(skipDir); statErr == nil && info.IsDir() {
			skip, err = stemExistsIn(skipDir, stem(fileName))
			if err != nil {
				return "", false, err
			}
			if skip {
				return destPath, true, nil
			}
		}
	}

	if _, statErr := os.Stat(destPath); statErr == nil {
		return destPath, true, nil
	}
	return destPath, false, nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func stemExistsIn(dir, want string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, &CodedError{Code: "io_error", Message: fmt.Sprintf("failed to read the skip-check directory %q", dir), Err: err}
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if stem(entry.Name()) == want {
			return true, nil
		}
	}
	return false, nil
}
