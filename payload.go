package petsync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hyperengineering/petsync/internal/store"
)

const payloadVersion = 1

// payloadFile is the on-disk envelope of a persisted submission.
type payloadFile struct {
	Version    int        `json:"version"`
	SavedAt    time.Time  `json:"saved_at"`
	Submission Submission `json:"submission"`
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_\-]+`)

// PayloadFileName is the discoverable file name for sub, for example
// "questionnaire_5912345678.json" or "booking_PBS-1042.json".
func PayloadFileName(sub Submission) string {
	return payloadFileName(sub.Source, sub.Key())
}

func payloadFileName(source Source, key string) string {
	return string(source) + "_" + unsafeFileChars.ReplaceAllString(key, "_") + ".json"
}

// WritePayload persists sub into dir and returns the file path.
func WritePayload(dir string, sub Submission, now time.Time) (string, error) {
	data, err := json.MarshalIndent(payloadFile{Version: payloadVersion, SavedAt: now.UTC(), Submission: sub}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	path := filepath.Join(dir, PayloadFileName(sub))
	if err := store.WriteFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// ReadPayload loads a persisted submission. Any failure wraps ErrPayloadNotFound.
func ReadPayload(path string) (*Submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPayloadNotFound, path, err)
	}
	var pf payloadFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("%w: %s: decode: %v", ErrPayloadNotFound, path, err)
	}
	if pf.Submission.ID == "" {
		return nil, fmt.Errorf("%w: %s: no submission id", ErrPayloadNotFound, path)
	}
	return &pf.Submission, nil
}

// PayloadInfo describes a persisted submission file.
type PayloadInfo struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Source  Source    `json:"source"`
	Key     string    `json:"key"`
	ModTime time.Time `json:"modified"`
}

// ListPayloads finds persisted submission files in dir, newest first.
func ListPayloads(ctx context.Context, dir string) ([]PayloadInfo, error) {
	files, err := store.ListFiles(ctx, dir, "")
	if err != nil {
		return nil, err
	}
	var out []PayloadInfo
	for _, f := range files {
		if !strings.HasSuffix(f.Name, ".json") {
			continue
		}
		for _, src := range []Source{SourceBooking, SourceQuestionnaire} {
			prefix := string(src) + "_"
			if strings.HasPrefix(f.Name, prefix) {
				out = append(out, PayloadInfo{
					Path:    f.Path,
					Name:    f.Name,
					Source:  src,
					Key:     strings.TrimSuffix(strings.TrimPrefix(f.Name, prefix), ".json"),
					ModTime: time.Unix(0, f.ModTime),
				})
			}
		}
	}
	return out, nil
}
