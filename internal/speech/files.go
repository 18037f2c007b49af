package speech

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// AudioDir stores generated audio files served under /audio.
type AudioDir struct {
	path string
	now  func() time.Time
}

func NewAudioDir(path string) (*AudioDir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}
	return &AudioDir{path: path, now: time.Now}, nil
}

func (d *AudioDir) Path() string {
	return d.path
}

// Save writes data as summary_<unix ms>.mp3 and returns the file name. If the
// name is taken the timestamp is bumped until a free one is found.
func (d *AudioDir) Save(data []byte) (string, error) {
	ts := d.now().UnixMilli()

	for {
		name := fmt.Sprintf("summary_%d.mp3", ts)

		f, err := os.OpenFile(filepath.Join(d.path, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			ts++
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create audio file: %w", err)
		}

		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("failed to write audio file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to write audio file: %w", err)
		}

		return name, nil
	}
}
