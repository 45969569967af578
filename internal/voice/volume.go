package voice

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultVolume is the playback gain applied to a peer until the user
	// adjusts it.
	DefaultVolume = 1.0
	// MaxVolume caps per-peer gain.
	MaxVolume = 2.0
)

// VolumeStore persists per-peer playback volume across sessions, keyed by
// remote user id.
type VolumeStore struct {
	mu      sync.Mutex
	path    string
	volumes map[int64]float64
}

// NewVolumeStore loads saved volumes from path. A missing file is not an
// error; it will be created on the first Set.
func NewVolumeStore(path string) (*VolumeStore, error) {
	s := &VolumeStore{path: path, volumes: make(map[int64]float64)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &s.volumes); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the saved volume for a peer, or DefaultVolume.
func (s *VolumeStore) Get(userID int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.volumes[userID]; ok {
		return v
	}
	return DefaultVolume
}

// Set clamps the volume to [0, MaxVolume], saves it and writes the file.
func (s *VolumeStore) Set(userID int64, volume float64) error {
	volume = clampVolume(volume)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes[userID] = volume

	data, err := yaml.Marshal(s.volumes)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o644)
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}
