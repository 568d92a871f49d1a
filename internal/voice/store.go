// Package voice manages cloned-voice speakers and turns reply text into audio
// in their voice.
//
// A [Store] keeps one reference recording per speaker under
// "<dir>/<speaker>/reference.<ext>". A [Router] picks a synthesis mode per
// speaker, runs the matching engines and writes the result as a uniquely named
// artifact.
package voice

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/MrWong99/vocalis/internal/fault"
	"github.com/MrWong99/vocalis/pkg/audio"
)

// ErrReferenceMissing is returned when a speaker has no usable reference
// recording.
var ErrReferenceMissing = errors.New("Voice profile not found. Call /voice/enroll once to clone a voice.")

// DefaultExtension is used for uploads whose file name carries no extension.
const DefaultExtension = ".wav"

// referenceBase is the file name stem of every reference recording.
const referenceBase = "reference"

// allowedExtensions lists the upload containers accepted by Enroll.
var allowedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".flac": true,
}

var unsafeRun = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Sanitize maps a caller-supplied speaker id onto a safe directory name.
// Every run of characters outside [a-zA-Z0-9_-] becomes a single underscore
// and leading or trailing underscores are trimmed.
func Sanitize(id string) (string, error) {
	clean := strings.Trim(unsafeRun.ReplaceAllString(id, "_"), "_")
	if clean == "" {
		return "", fault.Input("Invalid speaker_id")
	}
	return clean, nil
}

// Profile is an enrolled speaker.
type Profile struct {
	ID            string
	ReferencePath string
}

// SpeakerInfo is one entry of [Store.List].
type SpeakerInfo struct {
	ID           string `json:"speaker_id"`
	HasReference bool   `json:"has_reference"`
}

// Store is a filesystem-backed speaker registry. It is safe for concurrent
// use.
type Store struct {
	dir      string
	sanitize *audio.SanitizeOptions

	// mu serializes enrollments so a speaker never ends up with two
	// reference files.
	mu sync.Mutex
}

// StoreOption is a functional option for Store.
type StoreOption func(*Store)

// WithSanitize cleans WAV references on enrollment with [audio.Sanitize].
func WithSanitize(opts audio.SanitizeOptions) StoreOption {
	return func(s *Store) { s.sanitize = &opts }
}

// NewStore creates dir if needed and returns a Store rooted there.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	if dir == "" {
		return nil, errors.New("voice: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("voice: create dir: %w", err)
	}
	s := &Store{dir: dir}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Enroll replaces the speaker's reference recording with data. filename is
// the original upload name and only contributes its extension.
func (s *Store) Enroll(id, filename string, data []byte) (Profile, error) {
	speaker, err := Sanitize(id)
	if err != nil {
		return Profile{}, err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = DefaultExtension
	}
	if !allowedExtensions[ext] {
		return Profile{}, fault.Input("Unsupported audio format")
	}
	if len(data) == 0 {
		return Profile{}, fault.Input("Audio file is empty")
	}
	if ext == ".wav" && s.sanitize != nil {
		data = s.clean(speaker, data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	speakerDir := filepath.Join(s.dir, speaker)
	if err := os.MkdirAll(speakerDir, 0o755); err != nil {
		return Profile{}, fmt.Errorf("voice: enroll %s: %w", speaker, err)
	}
	old, err := filepath.Glob(filepath.Join(speakerDir, referenceBase+".*"))
	if err != nil {
		return Profile{}, fmt.Errorf("voice: enroll %s: %w", speaker, err)
	}
	for _, p := range old {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Profile{}, fmt.Errorf("voice: remove old reference: %w", err)
		}
	}

	path := filepath.Join(speakerDir, referenceBase+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Profile{}, fmt.Errorf("voice: write reference: %w", err)
	}
	slog.Info("speaker enrolled", "speaker_id", speaker, "reference", path, "bytes", len(data))
	return Profile{ID: speaker, ReferencePath: path}, nil
}

// clean runs the sanitizer over a WAV reference. Recordings it cannot decode
// are stored unchanged.
func (s *Store) clean(speaker string, data []byte) []byte {
	clip, err := audio.DecodeWAV(data)
	if err != nil {
		slog.Warn("reference not sanitized", "speaker_id", speaker, "error", err)
		return data
	}
	return audio.EncodeWAV(audio.Sanitize(clip, *s.sanitize))
}

// Reference returns the path of the speaker's reference recording, or
// [ErrReferenceMissing].
func (s *Store) Reference(id string) (string, error) {
	speaker, err := Sanitize(id)
	if err != nil {
		return "", err
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, speaker, referenceBase+".*"))
	if err != nil {
		return "", fmt.Errorf("voice: lookup reference: %w", err)
	}
	if len(matches) == 0 {
		return "", fault.Wrap(ErrReferenceMissing, fault.KindResourceMissing)
	}
	sort.Strings(matches)
	return matches[0], nil
}

// List returns every speaker directory, sorted by id.
func (s *Store) List() ([]SpeakerInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("voice: list speakers: %w", err)
	}
	out := make([]SpeakerInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		matches, _ := filepath.Glob(filepath.Join(s.dir, e.Name(), referenceBase+".*"))
		out = append(out, SpeakerInfo{ID: e.Name(), HasReference: len(matches) > 0})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
