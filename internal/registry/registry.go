// Package registry implements the Project Registry: for any absolute path it
// answers which parsed project's compiler context governs it, so downstream
// resolution (in particular path aliases) uses the correct configuration.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arborist-dev/arborist/internal/workspace"
)

// Project is one configured package: a root directory governed by a single
// compiler config file (tsconfig.json), its resolved path aliases, and the
// workspace package it belongs to (if any).
type Project struct {
	RootDir      string
	TSConfigPath string
	Package      workspace.PackageInfo
	AliasMap     map[string]string // workspace package name -> source entry
	PathAliases  map[string]string // tsconfig path alias -> relative target
}

// Registry holds all configured projects, sorted by root length descending
// so the most specific package wins a lookup. It is read-mostly after
// construction: adding a new package requires recreating the registry.
type Registry struct {
	projects []*Project
}

// Build constructs a Registry from a workspace map: one Project per
// discovered package, each rooted at that package's own tsconfig.json when
// present, falling back to the workspace root's tsconfig.
func Build(workspaceRoot string, ws *workspace.Map) (*Registry, error) {
	if ws == nil {
		return &Registry{}, nil
	}

	rootPaths, err := readTSConfigPaths(workspaceRoot, workspaceRoot)
	if err != nil {
		rootPaths = map[string]string{}
	}

	var projects []*Project
	for _, pkg := range ws.Packages {
		pkgDir := filepath.Join(workspaceRoot, pkg.Path)
		tsconfigPath := filepath.Join(pkgDir, "tsconfig.json")
		paths := rootPaths
		if fileExists(tsconfigPath) {
			if p, err := readTSConfigPaths(pkgDir, workspaceRoot); err == nil {
				paths = p
			}
		} else {
			tsconfigPath = filepath.Join(workspaceRoot, "tsconfig.json")
		}

		projects = append(projects, &Project{
			RootDir:      pkgDir,
			TSConfigPath: tsconfigPath,
			Package:      pkg,
			AliasMap:     ws.AliasMap,
			PathAliases:  paths,
		})
	}

	sort.Slice(projects, func(i, j int) bool {
		return len(projects[i].RootDir) > len(projects[j].RootDir)
	})

	return &Registry{projects: projects}, nil
}

// ForFile returns the project whose root directory is the longest prefix of
// absolutePath, or nil if the path lies outside every configured package.
func (r *Registry) ForFile(absolutePath string) *Project {
	if r == nil {
		return nil
	}
	clean := filepath.Clean(absolutePath)
	for _, p := range r.projects {
		root := filepath.Clean(p.RootDir)
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return p
		}
	}
	return nil
}

// ForTSConfig returns the project whose compiler config is the given file.
func (r *Registry) ForTSConfig(absoluteTSConfigPath string) *Project {
	if r == nil {
		return nil
	}
	clean := filepath.Clean(absoluteTSConfigPath)
	for _, p := range r.projects {
		if filepath.Clean(p.TSConfigPath) == clean {
			return p
		}
	}
	return nil
}

// Projects returns all registered projects, longest-root-first.
func (r *Registry) Projects() []*Project {
	if r == nil {
		return nil
	}
	return r.projects
}

// readTSConfigPaths parses dir/tsconfig.json and returns its path aliases
// with targets expressed relative to rootPath, matching the convention the
// workspace detector's flattened TSConfigPaths map already uses — so a
// resolver comparing a target against a rootPath-relative fileSet works the
// same way whether the path came from the registry or the flat fallback.
func readTSConfigPaths(dir, rootPath string) (map[string]string, error) {
	tsconfigPath := filepath.Join(dir, "tsconfig.json")
	data, err := os.ReadFile(tsconfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading tsconfig: %w", err)
	}

	var tsconfig struct {
		CompilerOptions struct {
			BaseURL string              `json:"baseUrl"`
			Paths   map[string][]string `json:"paths"`
		} `json:"compilerOptions"`
	}
	if err := json.Unmarshal(stripComments(data), &tsconfig); err != nil {
		return nil, fmt.Errorf("parsing tsconfig: %w", err)
	}

	baseURL := tsconfig.CompilerOptions.BaseURL
	if baseURL == "" {
		baseURL = "."
	}

	paths := make(map[string]string)
	for alias, targets := range tsconfig.CompilerOptions.Paths {
		if len(targets) == 0 {
			continue
		}
		absTarget := filepath.Join(dir, baseURL, targets[0])
		relTarget, err := filepath.Rel(rootPath, absTarget)
		if err != nil {
			relTarget = targets[0]
		}
		paths[alias] = relTarget
	}
	return paths, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// stripComments mirrors workspace.stripJSONComments; kept local to avoid
// exporting an internal helper across packages for one small utility.
func stripComments(data []byte) []byte {
	var result []byte
	i := 0
	inString := false
	for i < len(data) {
		if data[i] == '"' && (i == 0 || data[i-1] != '\\') {
			inString = !inString
			result = append(result, data[i])
			i++
			continue
		}
		if inString {
			result = append(result, data[i])
			i++
			continue
		}
		if i+1 < len(data) && data[i] == '/' && data[i+1] == '/' {
			for i < len(data) && data[i] != '\n' {
				i++
			}
			continue
		}
		if i+1 < len(data) && data[i] == '/' && data[i+1] == '*' {
			i += 2
			for i+1 < len(data) && !(data[i] == '*' && data[i+1] == '/') {
				i++
			}
			if i+1 < len(data) {
				i += 2
			}
			continue
		}
		result = append(result, data[i])
		i++
	}
	return result
}
