package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Map resolves bare package specifiers used in imports (e.g. "@org/toolkit")
// to the package's source entry file. When no source file can be found for a
// package, its entry is the manifest's raw source, module or main field,
// which may name compiled output. It is built once per workspace root and
// consulted by the import resolver.
type Map struct {
	WorkspaceType  string            `json:"workspaceType"`
	PackageManager string            `json:"packageManager"`
	Packages       []PackageInfo     `json:"packages"`
	AliasMap       map[string]string `json:"aliasMap"`
	TSConfigPaths  map[string]string `json:"tsconfigPaths"`
}

// WorkspaceInfo is an alias kept for callers that built against the
// indexer-era name; the type is identical to Map.
type WorkspaceInfo = Map

type PackageInfo struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Version    string `json:"version"`
	EntryPoint string `json:"entryPoint"`
}

// Detector discovers a workspace's package layout from its manifests.
// Returns nil, nil if sourcePath shows no workspace indicators at all.
type Detector interface {
	Detect(sourcePath string) (*Map, error)
}

// detectors is the ordered list of workspace detectors. First match wins.
var detectors = []Detector{
	&NodeDetector{},
}

// DetectWorkspace analyzes a source directory to determine its workspace
// structure: monorepo vs standalone, package manager, packages, and alias maps.
func DetectWorkspace(sourcePath string) (*Map, error) {
	if !dirExists(sourcePath) {
		return nil, fmt.Errorf("source path does not exist: %s", sourcePath)
	}

	for _, d := range detectors {
		info, err := d.Detect(sourcePath)
		if err != nil {
			return nil, err
		}
		if info != nil {
			return info, nil
		}
	}

	// No detector matched — anonymous standalone
	return &Map{
		WorkspaceType: "standalone",
		Packages:      []PackageInfo{{Name: filepath.Base(sourcePath), Path: "."}},
		AliasMap:      make(map[string]string),
		TSConfigPaths: make(map[string]string),
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
