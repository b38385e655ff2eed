package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	openai "github.com/sashabaranov/go-openai"

	"github.com/arborist-dev/arborist/internal/config"
	"github.com/arborist-dev/arborist/internal/projects"
	"github.com/arborist-dev/arborist/internal/registry"
	"github.com/arborist-dev/arborist/internal/workspace"
)

// SyncResult summarizes one manifest-driven sync pass over a single source.
type SyncResult struct {
	Added      int
	Stale      int
	Unchanged  int
	Deleted    int
	NodesUpserted int
	EdgesUpserted int
	NodesEmbedded int
	Duration   time.Duration
}

// SyncSource reconciles a source's on-disk state against its manifest: files
// absent from the manifest are added, files whose (mtime, size) changed are
// stale, and manifest entries with no file on disk are deleted. Added and
// stale files are re-extracted, re-embedded through the content-hash cache,
// and written to the graph store; unchanged files are left untouched. The
// manifest is rewritten on success.
//
// This is the file-fingerprint counterpart to DetectChanges/indexSource in
// pipeline.go, which drives the same pipeline off git history or DB-recorded
// mtimes for project-managed sources served over HTTP. SyncSource is used by
// the `arb index` CLI command and the filesystem watcher, where no database
// bookkeeping of "last indexed commit" exists — only the manifest does.
func SyncSource(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config, oaiClient *openai.Client, projectID string, source *projects.ProjectSource) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{}

	cacheDir := CacheDir(source.ID)

	manifest, err := LoadManifest(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	firstSync := len(manifest.Files) == 0

	crawlResult, err := CrawlDirectory(source.Path, source.IsCode)
	if err != nil {
		return nil, fmt.Errorf("crawling: %w", err)
	}

	diff := manifest.Diff(crawlResult.Files)
	result.Added = len(diff.Added)
	result.Stale = len(diff.Stale)
	result.Unchanged = len(diff.Unchanged)
	result.Deleted = len(diff.Deleted)

	slog.Info("manifest sync",
		"source", source.Alias,
		"added", result.Added,
		"stale", result.Stale,
		"unchanged", result.Unchanged,
		"deleted", result.Deleted,
		"firstSync", firstSync,
	)

	if result.Added == 0 && result.Stale == 0 && result.Deleted == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	wsInfo, err := workspace.DetectWorkspace(source.Path)
	if err != nil {
		return nil, fmt.Errorf("workspace detection: %w", err)
	}

	toExtract := make(map[string]bool, result.Added+result.Stale)
	for _, p := range diff.Added {
		toExtract[p] = true
	}
	for _, p := range diff.Stale {
		toExtract[p] = true
	}

	var filesToParse []FileInfo
	allRelPaths := make([]string, 0, len(crawlResult.Files))
	for _, f := range crawlResult.Files {
		allRelPaths = append(allRelPaths, f.RelPath)
		if toExtract[f.RelPath] {
			filesToParse = append(filesToParse, f)
		}
	}

	allNodes, allEdges, parseErrors := parseFiles(ctx, filesToParse, source.Path)
	if len(parseErrors) > 0 {
		slog.Warn("manifest sync parse errors", "count", len(parseErrors), "source", source.Alias)
	}

	reg, err := registry.Build(source.Path, wsInfo)
	if err != nil {
		slog.Warn("project registry build failed, falling back to workspace-root aliases", "source", source.Alias, "error", err)
		reg = nil
	}

	resolveResult := ResolveImports(
		allEdges,
		wsInfo.AliasMap,
		wsInfo.TSConfigPaths,
		reg,
		allNodes,
		allRelPaths,
		source.Path,
	)

	embeddings, embeddedCount, err := embedChangedNodes(ctx, pool, oaiClient, cfg, projectID, source.ID, allNodes, wsInfo)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	result.NodesEmbedded = embeddedCount

	buildInput := &BuildInput{
		ProjectID:  projectID,
		SourceID:   source.ID,
		SourcePath: source.Path,
		Workspace:  wsInfo,
		Nodes:      allNodes,
		Edges:      allEdges,
		Resolved:   resolveResult.Resolved,
		Unresolved: resolveResult.Unresolved,
		DependsOn:  resolveResult.DependsOn,
		Embeddings: embeddings,
		FilePaths:  allRelPaths,
	}

	buildResult, err := BuildGraph(ctx, pool, buildInput)
	if err != nil {
		return nil, fmt.Errorf("building graph: %w", err)
	}
	result.NodesUpserted = buildResult.NodesUpserted
	result.EdgesUpserted = buildResult.EdgesUpserted

	for _, relPath := range diff.Added {
		abs := joinSourcePath(source.Path, relPath)
		if err := manifest.Update(relPath, abs); err != nil {
			slog.Warn("manifest update failed", "file", relPath, "error", err)
		}
	}
	for _, relPath := range diff.Stale {
		abs := joinSourcePath(source.Path, relPath)
		if err := manifest.Update(relPath, abs); err != nil {
			slog.Warn("manifest update failed", "file", relPath, "error", err)
		}
	}
	for _, relPath := range diff.Deleted {
		manifest.Remove(relPath)
	}

	if err := manifest.Save(cacheDir); err != nil {
		return nil, fmt.Errorf("saving manifest: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func joinSourcePath(root, relPath string) string {
	return filepath.Join(root, relPath)
}
