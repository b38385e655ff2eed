package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	openai "github.com/sashabaranov/go-openai"

	"github.com/arborist-dev/arborist/internal/config"
	"github.com/arborist-dev/arborist/internal/engine"
	"github.com/arborist-dev/arborist/internal/projects"
	"github.com/arborist-dev/arborist/internal/search"
)

// NewServer creates an MCP server with mycelium's code intelligence tools.
func NewServer(pool *pgxpool.Pool, cfg *config.Config, client *openai.Client) *server.MCPServer {
	s := server.NewMCPServer(
		"mycelium",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	searchIdx := search.New(pool, cfg, nil, client)

	s.AddTool(exploreTool(), exploreHandler(pool, client))
	s.AddTool(listProjectsTool(), listProjectsHandler(pool))
	s.AddTool(detectProjectTool(), detectProjectHandler(pool))
	s.AddTool(traceTool(), traceHandler(pool, searchIdx, client))

	return s
}

// --- Tool definitions ---

func listProjectsTool() mcp.Tool {
	return mcp.NewTool("list_projects",
		mcp.WithDescription("List all available projects with IDs, names, and descriptions."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)
}

func detectProjectTool() mcp.Tool {
	return mcp.NewTool("detect_project",
		mcp.WithDescription("Auto-detect which project a directory belongs to. Usually not needed — explore accepts a 'path' param directly."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute directory path to match (e.g. your cwd)"),
		),
	)
}

func traceTool() mcp.Tool {
	return mcp.NewTool("trace",
		mcp.WithDescription("Traverse the code graph between symbols. Give 'from' alone for forward dependencies, 'to' alone for dependents, both for a connecting path, or 'topic' alone for a semantic neighborhood. Each endpoint accepts a symbol name (optionally scoped with file_path) or a free-text query for fuzzy resolution."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("project_id",
			mcp.Description("Project/colony ID. Use detect_project with your cwd to auto-detect, or list_projects to discover available IDs."),
		),
		mcp.WithString("path",
			mcp.Description("Absolute directory path for auto-detecting the project (e.g. your cwd)."),
		),
		mcp.WithString("from_symbol", mcp.Description("Exact symbol name to start the traversal from.")),
		mcp.WithString("from_file_path", mcp.Description("File path to disambiguate from_symbol when the name alone is ambiguous.")),
		mcp.WithString("from_query", mcp.Description("Free-text description to fuzzily resolve the starting symbol, instead of from_symbol.")),
		mcp.WithString("to_symbol", mcp.Description("Exact symbol name to end the traversal at.")),
		mcp.WithString("to_file_path", mcp.Description("File path to disambiguate to_symbol when the name alone is ambiguous.")),
		mcp.WithString("to_query", mcp.Description("Free-text description to fuzzily resolve the ending symbol, instead of to_symbol.")),
		mcp.WithString("topic", mcp.Description("Free-text topic for a semantic-neighborhood traversal when no from/to endpoint is given.")),
		mcp.WithNumber("max_nodes", mcp.Description("Cap on returned nodes (default 200; truncates in traversal order).")),
	)
}

func exploreTool() mcp.Tool {
	return mcp.NewTool("explore",
		mcp.WithDescription("Semantic (embedding similarity) search across indexed code in a project, expanded with graph neighbors. Returns matching symbols with file paths, signatures, and docstrings. Top results include full source code."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Description("Natural language search query (e.g. 'authentication middleware', 'database connection pool')"),
		),
		mcp.WithArray("queries",
			mcp.Description("Multiple search queries to run in a single call. Use this to batch questions and minimize round-trips."),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("project_id",
			mcp.Description("Project/colony ID. Use detect_project with your cwd to auto-detect, or list_projects to discover available IDs."),
		),
		mcp.WithString("path",
			mcp.Description("Absolute directory path for auto-detecting the project (e.g. your cwd)."),
		),
		mcp.WithNumber("max_tokens",
			mcp.Description("Token budget for the response (default 8000)."),
		),
	)
}

// --- Shared helpers ---

// resolveProjectID extracts the project ID from the request, trying project_id
// first and falling back to path-based auto-detection.
func resolveProjectID(ctx context.Context, pool *pgxpool.Pool, req mcp.CallToolRequest) (string, error) {
	if pid := req.GetString("project_id", ""); pid != "" {
		return pid, nil
	}
	if p := req.GetString("path", ""); p != "" {
		project, _, err := projects.DetectProjectByPath(ctx, pool, p)
		if err != nil {
			return "", fmt.Errorf("auto-detect failed: %w", err)
		}
		if project == nil {
			return "", fmt.Errorf("no project found for path %q — use list_projects to find the ID", p)
		}
		return project.ID, nil
	}
	return "", fmt.Errorf("provide either project_id or path for auto-detection")
}

// --- Tool handlers ---

func listProjectsHandler(pool *pgxpool.Pool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ps, err := projects.ListProjects(ctx, pool)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
		}

		if len(ps) == 0 {
			return mcp.NewToolResultText("No projects found. Create a colony in the mycelium UI first."), nil
		}

		var b strings.Builder
		b.WriteString(fmt.Sprintf("## %d project(s)\n\n", len(ps)))
		for _, p := range ps {
			b.WriteString(fmt.Sprintf("- **%s** (id: `%s`)", p.Name, p.ID))
			if p.Description != "" {
				b.WriteString(fmt.Sprintf(" — %s", p.Description))
			}
			b.WriteByte('\n')
		}

		return mcp.NewToolResultText(b.String()), nil
	}
}

func detectProjectHandler(pool *pgxpool.Pool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dirPath, err := req.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: path"), nil
		}

		project, source, err := projects.DetectProjectByPath(ctx, pool, dirPath)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("detection failed: %v", err)), nil
		}

		if project == nil {
			return mcp.NewToolResultText("No matching project found for this directory. Use list_projects to see available projects, or index this directory first via the mycelium UI."), nil
		}

		var b strings.Builder
		b.WriteString(fmt.Sprintf("## Detected project\n\n"))
		b.WriteString(fmt.Sprintf("- **Project:** %s\n", project.Name))
		b.WriteString(fmt.Sprintf("- **Project ID:** `%s`\n", project.ID))
		b.WriteString(fmt.Sprintf("- **Matched source:** %s\n", source.Path))
		if source.Alias != "" {
			b.WriteString(fmt.Sprintf("- **Alias:** %s\n", source.Alias))
		}
		b.WriteString(fmt.Sprintf("\nUse `%s` as the `project_id` for the explore tool.", project.ID))

		return mcp.NewToolResultText(b.String()), nil
	}
}

func exploreHandler(pool *pgxpool.Pool, client *openai.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// Accept either "query" (single) or "queries" (batch)
		var queries []string
		if q := req.GetString("query", ""); q != "" {
			queries = append(queries, q)
		}
		if qs := req.GetStringSlice("queries", nil); len(qs) > 0 {
			queries = append(queries, qs...)
		}
		if len(queries) == 0 {
			return mcp.NewToolResultError("provide either 'query' (string) or 'queries' (array of strings)"), nil
		}

		projectID, err := resolveProjectID(ctx, pool, req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		maxTokens := req.GetInt("max_tokens", 8000)

		// Single query — simple path
		if len(queries) == 1 {
			assembled, err := engine.AssembleContext(ctx, pool, client, queries[0], projectID, maxTokens)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("explore failed: %v", err)), nil
			}
			return mcp.NewToolResultText(assembled.Text), nil
		}

		// Multiple queries — run each, concatenate results with headers
		perQueryBudget := maxTokens / len(queries)
		if perQueryBudget < 2000 {
			perQueryBudget = 2000
		}

		var b strings.Builder
		for i, q := range queries {
			assembled, err := engine.AssembleContext(ctx, pool, client, q, projectID, perQueryBudget)
			if err != nil {
				b.WriteString(fmt.Sprintf("## Query %d: %s\n\nError: %v\n\n", i+1, q, err))
				continue
			}
			b.WriteString(fmt.Sprintf("## Query %d: %s\n\n", i+1, q))
			b.WriteString(assembled.Text)
			b.WriteString("\n\n---\n\n")
		}

		return mcp.NewToolResultText(b.String()), nil
	}
}

func traceHandler(pool *pgxpool.Pool, searchIdx *search.Index, client *openai.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := resolveProjectID(ctx, pool, req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		input := engine.ResolveInput{
			Topic:    req.GetString("topic", ""),
			MaxNodes: req.GetInt("max_nodes", 0),
		}

		if fromSym, fromQuery := req.GetString("from_symbol", ""), req.GetString("from_query", ""); fromSym != "" || fromQuery != "" {
			input.From = &engine.Endpoint{
				Symbol:   fromSym,
				FilePath: req.GetString("from_file_path", ""),
				Query:    fromQuery,
			}
		}
		if toSym, toQuery := req.GetString("to_symbol", ""), req.GetString("to_query", ""); toSym != "" || toQuery != "" {
			input.To = &engine.Endpoint{
				Symbol:   toSym,
				FilePath: req.GetString("to_file_path", ""),
				Query:    toQuery,
			}
		}

		if input.From == nil && input.To == nil && input.Topic == "" {
			return mcp.NewToolResultError("provide at least one of from_symbol/from_query, to_symbol/to_query, or topic"), nil
		}

		result, err := engine.Resolve(ctx, pool, searchIdx, client, projectID, input)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("trace failed: %v", err)), nil
		}

		var b strings.Builder
		b.WriteString(fmt.Sprintf("## Trace (%s), %d node(s), %d edge(s)\n\n", result.Mode, len(result.Nodes), len(result.Edges)))
		for _, note := range result.AutoResolutions {
			b.WriteString(fmt.Sprintf("> %s\n", note))
		}
		if result.Truncated {
			b.WriteString("\n> Result truncated to max_nodes.\n")
		}
		b.WriteString("\n")
		for _, n := range result.Nodes {
			b.WriteString(fmt.Sprintf("- **%s** (%s) — %s\n", n.QualifiedName, n.Kind, n.FilePath))
		}
		if len(result.Edges) > 0 {
			b.WriteString("\n### Edges\n\n")
			for _, e := range result.Edges {
				b.WriteString(fmt.Sprintf("- %s --%s--> %s\n", e.SourceQName, e.Kind, e.TargetQName))
			}
		}

		return mcp.NewToolResultText(b.String()), nil
	}
}

