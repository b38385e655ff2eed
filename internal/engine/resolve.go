package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	openai "github.com/sashabaranov/go-openai"

	"github.com/arborist-dev/arborist/internal/indexer"
	"github.com/arborist-dev/arborist/internal/indexer/parsers"
	"github.com/arborist-dev/arborist/internal/search"
)

// maxResolveDepth bounds every traversal mode below. spec.md §4.9 leaves the
// exact value implementation-chosen within 6-10; this project picks 8.
const maxResolveDepth = 8

// defaultEndpointCandidates is how many fuzzy matches a `{query}` endpoint
// expands to via the search index.
const defaultEndpointCandidates = 10

// snippetNodeThreshold: result sets at or below this size keep source
// snippets; larger ones drop to metadata-only, per spec.md §4.9 Truncation.
const snippetNodeThreshold = 30

// Endpoint is either an exact lookup ({Symbol, FilePath}) or a fuzzy lookup
// ({Query}) through the search index. Exactly one of Symbol or Query should
// be set.
type Endpoint struct {
	Symbol   string
	FilePath string
	Query    string
}

// ResolveInput is the unified query: an optional from/to pair for graph
// traversal, an optional topic for semantic search, and a node cap.
type ResolveInput struct {
	From     *Endpoint
	To       *Endpoint
	Topic    string
	MaxNodes int
	Kinds    []string
}

// ResolveResult is the merged subgraph plus any auto-resolution messages
// explaining how ambiguous inputs were settled.
type ResolveResult struct {
	Nodes           []NodeResult `json:"nodes"`
	Edges           []EdgeResult `json:"edges"`
	AutoResolutions []string     `json:"autoResolutions,omitempty"`
	Truncated       bool         `json:"truncated"`
	Mode            string       `json:"mode"`
}

// Resolve implements the unified from/to/topic query of spec.md §4.9: it
// resolves each endpoint to one or more concrete nodes (exact, or fuzzy via
// the hybrid search index, with symbol disambiguation when a bare name maps
// to more than one class method), runs the traversal mode implied by which
// endpoints are present, and truncates the result to MaxNodes in BFS order.
func Resolve(ctx context.Context, pool *pgxpool.Pool, idx *search.Index, oaiClient *openai.Client, projectID string, input ResolveInput) (*ResolveResult, error) {
	var autoResolutions []string

	edgeKinds := []string{
		parsers.EdgeCalls, parsers.EdgeIncludes, parsers.EdgeExtends, parsers.EdgeImplements,
		parsers.EdgeTakes, parsers.EdgeReturns, parsers.EdgeHasType, parsers.EdgeReferences,
	}

	var fromCandidates, toCandidates []NodeResult
	var err error

	if input.From != nil {
		fromCandidates, autoResolutions, err = resolveEndpoint(ctx, pool, idx, oaiClient, projectID, input.From, autoResolutions)
		if err != nil {
			return nil, fmt.Errorf("resolving from endpoint: %w", err)
		}
	}
	if input.To != nil {
		toCandidates, autoResolutions, err = resolveEndpoint(ctx, pool, idx, oaiClient, projectID, input.To, autoResolutions)
		if err != nil {
			return nil, fmt.Errorf("resolving to endpoint: %w", err)
		}
	}

	var result *ResolveResult
	switch {
	case input.From != nil && input.To != nil:
		result, err = resolvePath(ctx, pool, fromCandidates, toCandidates, edgeKinds)
	case input.From != nil:
		result, err = resolveForward(ctx, pool, fromCandidates, edgeKinds)
	case input.To != nil:
		result, err = resolveBackward(ctx, pool, toCandidates, edgeKinds)
	case input.Topic != "":
		result, err = resolveTopic(ctx, pool, idx, oaiClient, projectID, input.Topic, input.MaxNodes, input.Kinds, edgeKinds)
	default:
		return nil, fmt.Errorf("resolve: at least one of from, to, or topic is required")
	}
	if err != nil {
		return nil, err
	}

	result.AutoResolutions = autoResolutions
	truncate(result, input.MaxNodes)
	return result, nil
}

// resolveEndpoint turns an Endpoint into one or more concrete NodeResults.
func resolveEndpoint(ctx context.Context, pool *pgxpool.Pool, idx *search.Index, oaiClient *openai.Client, projectID string, ep *Endpoint, notes []string) ([]NodeResult, []string, error) {
	if ep.Query != "" {
		return resolveByQuery(ctx, pool, idx, oaiClient, projectID, ep.Query, notes)
	}
	return resolveSymbol(ctx, pool, projectID, ep.Symbol, ep.FilePath, notes)
}

// resolveByQuery translates a fuzzy {query} endpoint into up to
// defaultEndpointCandidates candidates via the hybrid search index,
// preserving their ranking.
func resolveByQuery(ctx context.Context, pool *pgxpool.Pool, idx *search.Index, oaiClient *openai.Client, projectID, query string, notes []string) ([]NodeResult, []string, error) {
	var queryVec []float32
	if oaiClient != nil {
		vec, err := embedQuery(ctx, oaiClient, query)
		if err == nil {
			queryVec = vec
		}
	}

	hits, err := idx.Search(ctx, projectID, query, queryVec, search.ModeHybrid, defaultEndpointCandidates, nil)
	if err != nil {
		return nil, notes, fmt.Errorf("search endpoint %q: %w", query, err)
	}

	nodes := make([]NodeResult, 0, len(hits))
	for _, h := range hits {
		nodes = append(nodes, NodeResult{
			NodeID:        h.NodeID,
			QualifiedName: h.QualifiedName,
			FilePath:      h.FilePath,
			Kind:          h.Kind,
			Signature:     h.Signature,
			SourceCode:    h.SourceCode,
			Docstring:     h.Docstring,
		})
	}
	notes = append(notes, fmt.Sprintf("query %q resolved to %d candidate node(s) via search", query, len(nodes)))
	return nodes, notes, nil
}

// resolveSymbol implements spec.md §4.9 symbol resolution: an exact id match
// first, then a name match, then — if the name belongs to a class — either
// an auto-route (exactly one method) or a disambiguation list (more than
// one).
func resolveSymbol(ctx context.Context, pool *pgxpool.Pool, projectID, symbol, filePath string, notes []string) ([]NodeResult, []string, error) {
	if symbol == "" {
		return nil, notes, fmt.Errorf("symbol endpoint requires a symbol or query")
	}

	if filePath != "" {
		node, err := findNodeByNameInFile(ctx, pool, projectID, symbol, filePath)
		if err != nil {
			return nil, notes, err
		}
		if node != nil {
			return []NodeResult{*node}, notes, nil
		}
		notes = append(notes, fmt.Sprintf("%q not found in %s, searching by name across the project", symbol, filePath))
	}

	byName, err := findNodesByName(ctx, pool, projectID, symbol)
	if err != nil {
		return nil, notes, err
	}
	if len(byName) > 0 {
		return byName, notes, nil
	}

	methods, err := findClassMethods(ctx, pool, projectID, symbol)
	if err != nil {
		return nil, notes, err
	}
	if len(methods) == 1 {
		notes = append(notes, fmt.Sprintf("%q is a class with a single method, auto-routed to %s", symbol, methods[0].QualifiedName))
		return methods, notes, nil
	}
	if len(methods) > 1 {
		names := make([]string, len(methods))
		for i, m := range methods {
			names[i] = m.QualifiedName
		}
		notes = append(notes, fmt.Sprintf("%q is a class with %d methods; disambiguate: %s", symbol, len(methods), strings.Join(names, ", ")))
		return methods, notes, nil
	}

	return nil, notes, fmt.Errorf("no node found for symbol %q", symbol)
}

func findNodeByNameInFile(ctx context.Context, pool *pgxpool.Pool, projectID, symbol, filePath string) (*NodeResult, error) {
	sql := `
		SELECT n.id, COALESCE(n.qualified_name, n.name), n.file_path, n.kind,
		       COALESCE(n.signature, ''), COALESCE(n.source_code, ''), COALESCE(n.docstring, '')
		FROM nodes n
		JOIN workspaces ws ON n.workspace_id = ws.id
		WHERE ws.project_id = $1 AND n.file_path = $2
		  AND (n.name = $3 OR n.qualified_name = $3)
		LIMIT 1`

	var r NodeResult
	err := pool.QueryRow(ctx, sql, projectID, filePath, symbol).Scan(
		&r.NodeID, &r.QualifiedName, &r.FilePath, &r.Kind, &r.Signature, &r.SourceCode, &r.Docstring,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("finding node by name in file: %w", err)
	}
	return &r, nil
}

func findNodesByName(ctx context.Context, pool *pgxpool.Pool, projectID, symbol string) ([]NodeResult, error) {
	sql := `
		SELECT n.id, COALESCE(n.qualified_name, n.name), n.file_path, n.kind,
		       COALESCE(n.signature, ''), COALESCE(n.source_code, ''), COALESCE(n.docstring, '')
		FROM nodes n
		JOIN workspaces ws ON n.workspace_id = ws.id
		WHERE ws.project_id = $1 AND (n.name = $2 OR n.qualified_name = $2)
		LIMIT 20`

	return queryNodes(ctx, pool, sql, projectID, symbol)
}

func findClassMethods(ctx context.Context, pool *pgxpool.Pool, projectID, className string) ([]NodeResult, error) {
	sql := `
		SELECT m.id, COALESCE(m.qualified_name, m.name), m.file_path, m.kind,
		       COALESCE(m.signature, ''), COALESCE(m.source_code, ''), COALESCE(m.docstring, '')
		FROM nodes m
		JOIN workspaces ws ON m.workspace_id = ws.id
		JOIN nodes c ON c.workspace_id = m.workspace_id AND c.name = $2 AND c.kind = $3
		WHERE ws.project_id = $1 AND m.kind = $4
		  AND m.qualified_name LIKE c.name || '.%'
		ORDER BY m.qualified_name`

	return queryNodes(ctx, pool, sql, projectID, className, parsers.KindClass, parsers.KindMethod)
}

// resolveForward implements the from-only traversal mode: forward
// reachability (dependencies) from every candidate, unioned.
func resolveForward(ctx context.Context, pool *pgxpool.Pool, candidates []NodeResult, edgeKinds []string) (*ResolveResult, error) {
	nodes, err := unionTransitive(ctx, pool, candidates, "forward", edgeKinds)
	if err != nil {
		return nil, err
	}
	edges, err := GetEdgesAmongNodes(ctx, pool, nodeIDs(nodes), edgeKinds)
	if err != nil {
		return nil, err
	}
	return &ResolveResult{Nodes: nodes, Edges: dedupeEdges(edges), Mode: "forward"}, nil
}

// resolveBackward implements the to-only traversal mode: backward
// reachability (dependents) from every candidate, unioned.
func resolveBackward(ctx context.Context, pool *pgxpool.Pool, candidates []NodeResult, edgeKinds []string) (*ResolveResult, error) {
	nodes, err := unionTransitive(ctx, pool, candidates, "backward", edgeKinds)
	if err != nil {
		return nil, err
	}
	edges, err := GetEdgesAmongNodes(ctx, pool, nodeIDs(nodes), edgeKinds)
	if err != nil {
		return nil, err
	}
	return &ResolveResult{Nodes: nodes, Edges: dedupeEdges(edges), Mode: "backward"}, nil
}

// resolvePath implements the from-and-to traversal mode: forward from
// `from`, backward from `to`, intersected, connecting subgraph emitted.
func resolvePath(ctx context.Context, pool *pgxpool.Pool, fromCandidates, toCandidates []NodeResult, edgeKinds []string) (*ResolveResult, error) {
	forward, err := unionTransitive(ctx, pool, fromCandidates, "forward", edgeKinds)
	if err != nil {
		return nil, err
	}
	backward, err := unionTransitive(ctx, pool, toCandidates, "backward", edgeKinds)
	if err != nil {
		return nil, err
	}

	forwardSet := make(map[string]NodeResult, len(forward))
	for _, n := range forward {
		forwardSet[n.NodeID] = n
	}
	// Seed node ids are always part of the connecting subgraph.
	for _, n := range fromCandidates {
		forwardSet[n.NodeID] = n
	}

	var connecting []NodeResult
	for _, n := range backward {
		if seed, ok := forwardSet[n.NodeID]; ok {
			connecting = append(connecting, seed)
		}
	}
	for _, n := range toCandidates {
		if _, ok := forwardSet[n.NodeID]; ok {
			connecting = append(connecting, n)
		}
	}
	connecting = dedupeNodes(connecting)

	if len(connecting) == 0 {
		// No path exists; fall back to the union of both seed sets with no edges.
		return &ResolveResult{Nodes: dedupeNodes(append(fromCandidates, toCandidates...)), Edges: []EdgeResult{}, Mode: "path"}, nil
	}

	edges, err := GetEdgesAmongNodes(ctx, pool, nodeIDs(connecting), edgeKinds)
	if err != nil {
		return nil, err
	}
	return &ResolveResult{Nodes: connecting, Edges: dedupeEdges(edges), Mode: "path"}, nil
}

// resolveTopic implements the topic-only traversal mode: hybrid search for
// the topic, then connect the returned seeds with any edges that already
// exist between them; a flat ranked list if none do.
func resolveTopic(ctx context.Context, pool *pgxpool.Pool, idx *search.Index, oaiClient *openai.Client, projectID, topic string, maxNodes int, kinds, edgeKinds []string) (*ResolveResult, error) {
	limit := maxNodes
	if limit <= 0 {
		limit = defaultEndpointCandidates
	}

	var queryVec []float32
	if oaiClient != nil {
		vec, err := embedQuery(ctx, oaiClient, topic)
		if err == nil {
			queryVec = vec
		}
	}

	hits, err := idx.Search(ctx, projectID, topic, queryVec, search.ModeHybrid, limit, kinds)
	if err != nil {
		return nil, fmt.Errorf("topic search: %w", err)
	}

	nodes := make([]NodeResult, 0, len(hits))
	for _, h := range hits {
		nodes = append(nodes, NodeResult{
			NodeID:        h.NodeID,
			QualifiedName: h.QualifiedName,
			FilePath:      h.FilePath,
			Kind:          h.Kind,
			Signature:     h.Signature,
			SourceCode:    h.SourceCode,
			Docstring:     h.Docstring,
		})
	}

	edges, err := GetEdgesAmongNodes(ctx, pool, nodeIDs(nodes), edgeKinds)
	if err != nil {
		return nil, err
	}
	return &ResolveResult{Nodes: nodes, Edges: dedupeEdges(edges), Mode: "topic"}, nil
}

// unionTransitive runs GetDependencies (forward) or GetDependents (backward)
// for every candidate and unions the node sets, de-duplicating by node id —
// spec.md §4.9's handling of query endpoints that resolve to multiple
// candidates.
func unionTransitive(ctx context.Context, pool *pgxpool.Pool, candidates []NodeResult, direction string, edgeKinds []string) ([]NodeResult, error) {
	seen := make(map[string]NodeResult)
	for _, c := range candidates {
		seen[c.NodeID] = c

		var related []NodeResult
		var err error
		if direction == "forward" {
			related, err = GetDependencies(ctx, pool, c.NodeID, maxResolveDepth, 1000)
		} else {
			related, err = GetDependents(ctx, pool, c.NodeID, maxResolveDepth, 1000)
		}
		if err != nil {
			return nil, fmt.Errorf("transitive %s from %s: %w", direction, c.QualifiedName, err)
		}
		for _, n := range related {
			if existing, ok := seen[n.NodeID]; !ok || n.Depth < existing.Depth {
				seen[n.NodeID] = n
			}
		}
	}

	out := make([]NodeResult, 0, len(seen))
	for _, n := range seen {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].QualifiedName < out[j].QualifiedName
	})
	return out, nil
}

func nodeIDs(nodes []NodeResult) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.NodeID
	}
	return ids
}

func dedupeNodes(nodes []NodeResult) []NodeResult {
	seen := make(map[string]bool, len(nodes))
	out := make([]NodeResult, 0, len(nodes))
	for _, n := range nodes {
		if seen[n.NodeID] {
			continue
		}
		seen[n.NodeID] = true
		out = append(out, n)
	}
	return out
}

// dedupeEdges de-duplicates by (source, target, kind) per spec.md §4.9's
// union rule for multi-candidate traversals.
func dedupeEdges(edges []EdgeResult) []EdgeResult {
	type key struct{ s, t, k string }
	seen := make(map[key]bool, len(edges))
	out := make([]EdgeResult, 0, len(edges))
	for _, e := range edges {
		k := key{e.SourceNodeID, e.TargetNodeID, e.Kind}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

// truncate implements spec.md §4.9 Truncation: keep the first maxNodes nodes
// in BFS order (already the order unionTransitive/queries produce), drop
// edges touching removed nodes, and strip snippets once the kept set exceeds
// snippetNodeThreshold.
func truncate(result *ResolveResult, maxNodes int) {
	if maxNodes <= 0 {
		maxNodes = 200
	}

	if len(result.Nodes) > maxNodes {
		result.Nodes = result.Nodes[:maxNodes]
		result.Truncated = true

		kept := make(map[string]bool, len(result.Nodes))
		for _, n := range result.Nodes {
			kept[n.NodeID] = true
		}
		filtered := make([]EdgeResult, 0, len(result.Edges))
		for _, e := range result.Edges {
			if kept[e.SourceNodeID] && kept[e.TargetNodeID] {
				filtered = append(filtered, e)
			}
		}
		result.Edges = filtered
	}

	if len(result.Nodes) > snippetNodeThreshold {
		for i := range result.Nodes {
			result.Nodes[i].SourceCode = ""
		}
	}
}

func embedQuery(ctx context.Context, client *openai.Client, text string) ([]float32, error) {
	vectors, err := indexer.EmbedTexts(ctx, client, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned for query")
	}
	return vectors[0], nil
}
