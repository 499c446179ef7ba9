// Package bundle writes session export bundles: the traffic archive,
// entropy timeline and profile identity of one browsing session as a
// single reviewable JSON file.
package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/flak3dd/manifold/api/schemas"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const exportVersion = "1.0"

// stampLayout names bundle files so they sort chronologically.
const stampLayout = "20060102T150405"

// Export is the on-disk bundle shape.
type Export struct {
	Version    string                    `json:"version"`
	ExportedAt time.Time                 `json:"exported_at"`
	Profile    ProfileMeta               `json:"profile"`
	HAR        *schemas.TrafficArchive   `json:"har"`
	Entropy    []schemas.EntropySnapshot `json:"entropy"`
}

// ProfileMeta identifies which identity produced the capture.
type ProfileMeta struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Seed      uint64 `json:"seed"`
	UserAgent string `json:"user_agent"`
	Platform  string `json:"platform"`
}

// SessionMeta describes one previously exported bundle.
type SessionMeta struct {
	Filename  string `json:"filename"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Path      string `json:"path"`
}

// Store lays bundles out under <data-dir>/profiles/<id>/sessions/.
type Store struct {
	profilesDir string
	logger      *zap.Logger
	now         func() time.Time
}

// NewStore wants dataDir already resolved; see
// config.StorageConfig.ResolveDataDir.
func NewStore(dataDir string, logger *zap.Logger) *Store {
	return &Store{
		profilesDir: filepath.Join(dataDir, "profiles"),
		logger:      logger.Named("bundle"),
		now:         time.Now,
	}
}

// WriteSession persists one bundle and returns its path. A nil archive
// is recorded as null; missing entropy becomes an empty array so
// consumers can index it unconditionally.
func (s *Store) WriteSession(profile *schemas.Profile, har *schemas.TrafficArchive, entropy []schemas.EntropySnapshot) (string, error) {
	if profile == nil {
		return "", errors.New("profile is required")
	}
	if err := checkPathComponent(profile.ID); err != nil {
		return "", fmt.Errorf("profile id: %w", err)
	}

	meta := ProfileMeta{ID: profile.ID, Name: profile.Name, Seed: profile.Seed}
	if profile.Fingerprint != nil {
		meta.Seed = profile.Fingerprint.Seed
		meta.UserAgent = profile.Fingerprint.UserAgent
		meta.Platform = profile.Fingerprint.Platform
	}
	if entropy == nil {
		entropy = []schemas.EntropySnapshot{}
	}

	ts := s.now().UTC()
	export := Export{
		Version:    exportVersion,
		ExportedAt: ts,
		Profile:    meta,
		HAR:        har,
		Entropy:    entropy,
	}
	data, err := jsonAPI.MarshalIndent(&export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode session bundle: %w", err)
	}

	dir := filepath.Join(s.profilesDir, profile.ID, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sessions dir: %w", err)
	}
	path := filepath.Join(dir, ts.Format(stampLayout)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write session bundle: %w", err)
	}

	s.logger.Info("session bundle written",
		zap.String("profile_id", profile.ID),
		zap.String("path", path),
		zap.Int("bytes", len(data)))
	return path, nil
}

// ListSessions returns the exported bundles for a profile, newest
// first. A profile with no exports yet is an empty list, not an error.
func (s *Store) ListSessions(profileID string) ([]SessionMeta, error) {
	if err := checkPathComponent(profileID); err != nil {
		return nil, fmt.Errorf("profile id: %w", err)
	}
	dir := filepath.Join(s.profilesDir, profileID, "sessions")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []SessionMeta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	metas := make([]SessionMeta, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		metas = append(metas, SessionMeta{
			Filename:  name,
			Name:      strings.TrimSuffix(name, ".json"),
			SizeBytes: info.Size(),
			Path:      filepath.Join(dir, name),
		})
	}
	// Stamps sort lexicographically, so reverse order is newest first.
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name > metas[j].Name })
	return metas, nil
}

// DeleteSession removes one exported bundle. Deleting a bundle that is
// already gone is not an error.
func (s *Store) DeleteSession(profileID, filename string) error {
	if err := checkPathComponent(profileID); err != nil {
		return fmt.Errorf("profile id: %w", err)
	}
	if err := checkPathComponent(filename); err != nil {
		return fmt.Errorf("filename: %w", err)
	}
	path := filepath.Join(s.profilesDir, profileID, "sessions", filename)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete session bundle: %w", err)
	}
	return nil
}

// checkPathComponent rejects values that could escape the profiles
// tree when joined into a path.
func checkPathComponent(v string) error {
	if v == "" {
		return errors.New("must not be empty")
	}
	if strings.ContainsAny(v, `/\`) || strings.Contains(v, "..") {
		return errors.New("must not contain path separators or '..'")
	}
	return nil
}
