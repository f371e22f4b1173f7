/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProbeDuration opens a local file and reads just enough of it to learn
// the total play length in milliseconds. Only formats the playback
// decoder understands are probed; everything else reports
// ErrUnsupportedMedia so callers can fall back to an unknown duration.
func ProbeDuration(path string) (int64, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case extMP3, extWAV, extFLAC, extOGG:
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedMedia, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	streamer, format, err := decode(path, f)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	defer streamer.Close()

	if format.SampleRate <= 0 {
		return 0, nil
	}
	return int64(streamer.Len()) * 1000 / int64(format.SampleRate), nil
}
