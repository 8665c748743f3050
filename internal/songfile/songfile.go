// Package songfile reads and rewrites the header block of UltraStar-style
// song text files. Only the handful of tags the detection service needs are
// surfaced; note lines and unknown tags pass through rewrites untouched.
package songfile

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNoAudio is returned by [Load] when a song file names neither an #AUDIO
// nor an #MP3 tag.
var ErrNoAudio = errors.New("songfile: no audio tag")

const utf8BOM = "\uFEFF"

// Song is the parsed header of one song text file.
type Song struct {
	// Path is the song text file the header came from.
	Path string

	Title  string
	Artist string

	// AudioFile is the audio path resolved relative to the song file's
	// directory. #AUDIO wins over the legacy #MP3 tag when both appear.
	AudioFile string

	// GapMs is the vocal start currently recorded in the file. UltraStar
	// allows fractional values with either decimal separator; they are
	// rounded to whole milliseconds.
	GapMs int64
}

// Load parses the header block of the song file at path.
func Load(path string) (*Song, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("songfile: read %q: %w", path, err)
	}

	song := &Song{Path: path}
	var mp3, audio string

	for _, line := range splitLines(string(data)) {
		line = strings.TrimPrefix(line, utf8BOM)
		tag, value, ok := headerTag(line)
		if !ok {
			if isNoteLine(line) {
				break
			}
			continue
		}
		switch tag {
		case "TITLE":
			song.Title = value
		case "ARTIST":
			song.Artist = value
		case "MP3":
			mp3 = value
		case "AUDIO":
			audio = value
		case "GAP":
			ms, err := parseGap(value)
			if err != nil {
				return nil, fmt.Errorf("songfile: %q: %w", path, err)
			}
			song.GapMs = ms
		}
	}

	ref := audio
	if ref == "" {
		ref = mp3
	}
	if ref == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoAudio, path)
	}
	if filepath.IsAbs(ref) {
		song.AudioFile = ref
	} else {
		song.AudioFile = filepath.Join(filepath.Dir(path), ref)
	}
	return song, nil
}

// SetGap rewrites the #GAP tag of the song file at path to gapMs, preserving
// every other byte of the file including line endings and a leading BOM. A
// file without a #GAP tag gets one appended to the header block.
func SetGap(path string, gapMs int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("songfile: read %q: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("songfile: stat %q: %w", path, err)
	}

	eol := "\n"
	if strings.Contains(string(data), "\r\n") {
		eol = "\r\n"
	}

	lines := splitLines(string(data))
	gapLine := fmt.Sprintf("#GAP:%d", gapMs)
	replaced := false

	for i, line := range lines {
		stripped := strings.TrimPrefix(line, utf8BOM)
		tag, _, ok := headerTag(stripped)
		if !ok {
			continue
		}
		if tag == "GAP" {
			// Keep the BOM if the GAP tag happened to be the first line.
			lines[i] = strings.TrimSuffix(line, stripped) + gapLine
			replaced = true
			break
		}
	}

	if !replaced {
		// Insert before the first note line, or append when the file is
		// headers only.
		at := len(lines)
		for i, line := range lines {
			if isNoteLine(strings.TrimPrefix(line, utf8BOM)) {
				at = i
				break
			}
		}
		lines = append(lines[:at], append([]string{gapLine}, lines[at:]...)...)
	}

	out := strings.Join(lines, eol)
	if strings.HasSuffix(string(data), "\n") && !strings.HasSuffix(out, eol) {
		out += eol
	}
	if err := os.WriteFile(path, []byte(out), info.Mode().Perm()); err != nil {
		return fmt.Errorf("songfile: write %q: %w", path, err)
	}
	return nil
}

// headerTag splits a "#TAG:value" line. Tags compare case-insensitively.
func headerTag(line string) (tag, value string, ok bool) {
	if !strings.HasPrefix(line, "#") {
		return "", "", false
	}
	rest := line[1:]
	idx := strings.Index(rest, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.ToUpper(strings.TrimSpace(rest[:idx])), strings.TrimSpace(rest[idx+1:]), true
}

// isNoteLine reports whether line starts the note body of the file. Notes
// begin with a type rune (: * F R G), a phrase break (-), or the terminator E.
func isNoteLine(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case ':', '*', 'F', 'R', 'G', '-', 'E':
		return true
	}
	return false
}

// parseGap accepts integer or fractional milliseconds with either a dot or
// comma decimal separator.
func parseGap(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("parse gap %q: %w", value, err)
	}
	return int64(math.Round(f)), nil
}

// splitLines splits on both LF and CRLF without dropping trailing content.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
