package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const manifestVersion = 1

// CacheDir returns the per-source cache directory (manifest.json, embeddings/)
// rooted under the user's XDG cache home, e.g. ~/.cache/arborist/<sourceID>/.
func CacheDir(sourceID string) string {
	return filepath.Join(xdg.CacheHome, "arborist", sourceID)
}

// FileFingerprint is the persisted (mtime, size) pair used to detect whether
// a file changed since it was last indexed.
type FileFingerprint struct {
	MTime int64 `json:"mtime"`
	Size  int64 `json:"size"`
}

// Manifest is the per-project record of every file that has been indexed,
// keyed by path relative to the source root. It is a superset of the indexed
// files: every entry either corresponds to nodes already in the store or is
// about to be re-ingested.
type Manifest struct {
	Version int                        `json:"version"`
	Files   map[string]FileFingerprint `json:"files"`
}

// NewManifest returns an empty manifest at the current version.
func NewManifest() *Manifest {
	return &Manifest{
		Version: manifestVersion,
		Files:   make(map[string]FileFingerprint),
	}
}

// ManifestPath returns where a project's manifest lives inside its cache directory.
func ManifestPath(cacheDir string) string {
	return filepath.Join(cacheDir, "manifest.json")
}

// LoadManifest reads the manifest from cacheDir, returning a fresh empty manifest
// if none exists yet (first index).
func LoadManifest(cacheDir string) (*Manifest, error) {
	path := ManifestPath(cacheDir)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewManifest(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Files == nil {
		m.Files = make(map[string]FileFingerprint)
	}
	return &m, nil
}

// Save persists the manifest to cacheDir, creating the directory if necessary.
func (m *Manifest) Save(cacheDir string) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	m.Version = manifestVersion
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}

	tmp := ManifestPath(cacheDir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return os.Rename(tmp, ManifestPath(cacheDir))
}

// ManifestDiff classifies files as added, stale (changed), unchanged, or deleted
// relative to a manifest.
type ManifestDiff struct {
	Added     []string
	Stale     []string
	Unchanged []string
	Deleted   []string
}

// Diff compares the current crawl result against the manifest and returns the
// classification used to drive a sync pass.
func (m *Manifest) Diff(files []FileInfo) ManifestDiff {
	var diff ManifestDiff

	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.RelPath] = true

		prev, ok := m.Files[f.RelPath]
		if !ok {
			diff.Added = append(diff.Added, f.RelPath)
			continue
		}

		info, err := os.Stat(f.AbsPath)
		if err != nil {
			diff.Added = append(diff.Added, f.RelPath)
			continue
		}

		cur := FileFingerprint{MTime: info.ModTime().UnixNano(), Size: info.Size()}
		if cur != prev {
			diff.Stale = append(diff.Stale, f.RelPath)
		} else {
			diff.Unchanged = append(diff.Unchanged, f.RelPath)
		}
	}

	for relPath := range m.Files {
		if !seen[relPath] {
			diff.Deleted = append(diff.Deleted, relPath)
		}
	}

	return diff
}

// Update records the current fingerprint of a successfully (re)indexed file.
func (m *Manifest) Update(relPath, absPath string) error {
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", absPath, err)
	}
	m.Files[relPath] = FileFingerprint{MTime: info.ModTime().UnixNano(), Size: info.Size()}
	return nil
}

// Remove deletes an entry from the manifest, e.g. after a file is deleted
// from disk.
func (m *Manifest) Remove(relPath string) {
	delete(m.Files, relPath)
}
