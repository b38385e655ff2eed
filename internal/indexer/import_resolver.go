package indexer

import (
	"path/filepath"
	"strings"

	"github.com/arborist-dev/arborist/internal/indexer/parsers"
	"github.com/arborist-dev/arborist/internal/registry"
)

// ResolvedEdge is an import or call edge with both specifier and resolved file path.
type ResolvedEdge struct {
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	ResolvedPath string   `json:"resolvedPath"`
	Kind         string   `json:"kind"`
	Line         int      `json:"line"`
	Symbols      []string `json:"symbols,omitempty"`
}

// UnresolvedRef is an import or call that couldn't be resolved.
type UnresolvedRef struct {
	Source    string `json:"source"`
	RawImport string `json:"rawImport"`
	Kind      string `json:"kind"`
	Line      int    `json:"line"`
}

// ResolveResult holds the output of import resolution.
type ResolveResult struct {
	Resolved   []ResolvedEdge  `json:"resolved"`
	Unresolved []UnresolvedRef `json:"unresolved"`
	DependsOn  []ResolvedEdge  `json:"dependsOn"`
}

// nodeBuiltins is the set of Node.js built-in modules that should be skipped.
var nodeBuiltins = map[string]bool{
	"assert": true, "buffer": true, "child_process": true, "cluster": true,
	"crypto": true, "dgram": true, "dns": true, "domain": true,
	"events": true, "fs": true, "http": true, "https": true,
	"net": true, "os": true, "path": true, "perf_hooks": true,
	"process": true, "punycode": true, "querystring": true, "readline": true,
	"repl": true, "stream": true, "string_decoder": true, "sys": true,
	"timers": true, "tls": true, "tty": true, "url": true,
	"util": true, "v8": true, "vm": true, "worker_threads": true,
	"zlib": true, "console": true, "module": true,
}

// tsExtensions is the order in which TypeScript/JavaScript files are resolved.
var tsExtensions = []string{".ts", ".tsx", ".js", ".jsx"}

// resolveStatus distinguishes "resolved", "skip" (builtin), and "unresolved".
type resolveStatus int

const (
	statusUnresolved resolveStatus = iota
	statusResolved
	statusSkipped
)

// maxBarrelDepth caps how many re-export hops get-followed before giving up,
// guarding against a cyclical or pathological barrel chain.
const maxBarrelDepth = 12

// ResolveImports takes raw edges from parsing, workspace alias maps, tsconfig
// paths, a project registry, and a set of all parsed files, then resolves
// import specifiers to concrete file paths, follows barrel re-export chains
// to their terminal declaration, and traces call edges through imports.
//
// reg may be nil (standalone projects with no per-package tsconfig.json);
// when non-nil it is consulted per-file so that a path alias is always
// resolved against the compiler config of the package that owns the file
// currently being resolved — spec.md §4.3's requirement that a barrel hop
// crossing a package boundary re-resolves using the barrel owner's own
// project, rather than the importing file's, so two packages that declare
// the same alias prefix (e.g. both `@/*`) never cross-contaminate.
func ResolveImports(
	rawEdges []parsers.EdgeInfo,
	aliasMap map[string]string,
	tsconfigPaths map[string]string,
	reg *registry.Registry,
	allNodes []parsers.NodeInfo,
	allFiles []string,
	rootPath string,
) *ResolveResult {
	result := &ResolveResult{}

	if aliasMap == nil {
		aliasMap = make(map[string]string)
	}
	if tsconfigPaths == nil {
		tsconfigPaths = make(map[string]string)
	}

	fileSet := buildFileSet(allFiles)
	nodesByFile := buildNodesByFile(allNodes)
	importedSymbols := buildImportedSymbolMap(rawEdges)
	nodesByName := buildNodesByName(allNodes)
	importsByFile := buildFileImportEdges(rawEdges)
	lookupPaths := pathAliasLookup(reg, tsconfigPaths, rootPath)

	packageDeps := make(map[string]map[string]bool)

	for _, edge := range rawEdges {
		switch edge.Kind {
		case parsers.EdgeImportsInternal:
			resolved, status := resolveImportEdge(edge, aliasMap, lookupPaths, fileSet, rootPath)
			switch status {
			case statusResolved:
				// A barrel file (one with no declared nodes of its own)
				// contributes no node and no edge of its own; trace through
				// it to the file that actually declares each symbol.
				if isBarrelFile(resolved.ResolvedPath, nodesByFile) {
					resolved = followBarrelChain(resolved, edge.Symbols, nodesByFile, importsByFile, aliasMap, lookupPaths, fileSet, rootPath, 0)
				}
				result.Resolved = append(result.Resolved, *resolved)
				trackPackageDep(packageDeps, edge.Source, resolved.ResolvedPath, rootPath)
			case statusSkipped:
				// Builtin module — not tracked.
			case statusUnresolved:
				result.Unresolved = append(result.Unresolved, UnresolvedRef{
					Source:    edge.Source,
					RawImport: edge.Target,
					Kind:      parsers.EdgeImportsInternal,
					Line:      edge.Line,
				})
			}

		case parsers.EdgeCalls:
			resolved := resolveCallEdge(edge, nodesByFile, importedSymbols, nodesByName)
			if resolved != nil {
				result.Resolved = append(result.Resolved, *resolved)
			}

		case parsers.EdgeIncludes, parsers.EdgeExtends, parsers.EdgeImplements,
			parsers.EdgeTakes, parsers.EdgeReturns, parsers.EdgeHasType,
			parsers.EdgeHasProperty, parsers.EdgeDerivesFrom, parsers.EdgeAliasFor,
			parsers.EdgeReferences:
			// These resolve purely by name within the workspace (cross-file
			// targets are reached through CALLS/imports tracing above); pass
			// them through unchanged so the graph builder can look up their
			// qualified-name target directly.
			result.Resolved = append(result.Resolved, ResolvedEdge{
				Source:  edge.Source,
				Target:  edge.Target,
				Kind:    edge.Kind,
				Line:    edge.Line,
				Symbols: edge.Symbols,
			})
		}
	}

	for srcPkg, targets := range packageDeps {
		for tgtPkg := range targets {
			result.DependsOn = append(result.DependsOn, ResolvedEdge{
				Source: srcPkg,
				Target: tgtPkg,
				Kind:   "depends_on",
			})
		}
	}

	return result
}

// isBarrelFile reports whether a resolved import target declares no nodes of
// its own — the signature of a pure re-export module.
func isBarrelFile(filePath string, nodesByFile map[string][]parsers.NodeInfo) bool {
	return len(nodesByFile[filePath]) == 0
}

// followBarrelChain walks a chain of "export * from" / "export {x} from" /
// "export {default as x} from" / "export * as ns from" re-exports starting
// at a barrel file, stopping at the first file that declares a matching
// symbol (or the depth limit). Barrel files themselves never become nodes or
// edges; only the terminal resolution is recorded.
func followBarrelChain(
	resolved *ResolvedEdge,
	wantedSymbols []string,
	nodesByFile map[string][]parsers.NodeInfo,
	importsByFile map[string][]parsers.EdgeInfo,
	aliasMap map[string]string,
	lookupPaths pathAliasLookupFunc,
	fileSet map[string]bool,
	rootPath string,
	depth int,
) *ResolvedEdge {
	if depth >= maxBarrelDepth {
		return resolved
	}

	reexports := importsByFile[resolved.ResolvedPath]
	if len(reexports) == 0 {
		return resolved
	}

	for _, reexport := range reexports {
		next, status := resolveImportEdge(reexport, aliasMap, lookupPaths, fileSet, rootPath)
		if status != statusResolved {
			continue
		}

		// Named re-export ("export { a } from './b'"): only follow when it
		// carries one of the symbols we're chasing (or no symbols were
		// requested, i.e. a star re-export).
		if len(wantedSymbols) > 0 && len(reexport.Symbols) > 0 && !symbolsOverlap(wantedSymbols, reexport.Symbols) {
			continue
		}

		if !isBarrelFile(next.ResolvedPath, nodesByFile) {
			return &ResolvedEdge{
				Source:       resolved.Source,
				Target:       resolved.Target,
				ResolvedPath: next.ResolvedPath,
				Kind:         resolved.Kind,
				Line:         resolved.Line,
				Symbols:      resolved.Symbols,
			}
		}

		if terminal := followBarrelChain(next, wantedSymbols, nodesByFile, importsByFile, aliasMap, lookupPaths, fileSet, rootPath, depth+1); terminal != nil {
			return &ResolvedEdge{
				Source:       resolved.Source,
				Target:       resolved.Target,
				ResolvedPath: terminal.ResolvedPath,
				Kind:         resolved.Kind,
				Line:         resolved.Line,
				Symbols:      resolved.Symbols,
			}
		}
	}

	return resolved
}

func symbolsOverlap(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[strings.TrimPrefix(s, "* as ")] = true
	}
	for _, s := range b {
		if set[strings.TrimPrefix(s, "* as ")] {
			return true
		}
	}
	return false
}

// pathAliasLookupFunc returns the tsconfig path-alias map that governs a
// given file — the owning package's own paths when a registry resolved one,
// the flat workspace-root fallback otherwise.
type pathAliasLookupFunc func(sourceFile string) map[string]string

// pathAliasLookup builds a pathAliasLookupFunc backed by reg. Every
// resolution step (the initial edge and each barrel hop) calls this with the
// file currently being resolved FROM, so path aliases are always evaluated
// against that file's own project rather than the query's original source —
// this is what lets two packages declare the same alias prefix (e.g. both
// `@/*`) without one clobbering the other.
func pathAliasLookup(reg *registry.Registry, fallback map[string]string, rootPath string) pathAliasLookupFunc {
	return func(sourceFile string) map[string]string {
		if reg != nil {
			if proj := reg.ForFile(filepath.Join(rootPath, sourceFile)); proj != nil && len(proj.PathAliases) > 0 {
				return proj.PathAliases
			}
		}
		return fallback
	}
}

// resolveImportEdge attempts to resolve a single import edge to a file path.
func resolveImportEdge(
	edge parsers.EdgeInfo,
	aliasMap map[string]string,
	lookupPaths pathAliasLookupFunc,
	fileSet map[string]bool,
	rootPath string,
) (*ResolvedEdge, resolveStatus) {
	specifier := edge.Target
	sourceFile := edge.Source

	if isNodeBuiltin(specifier) {
		return nil, statusSkipped
	}

	makeResolved := func(resolvedPath string) *ResolvedEdge {
		return &ResolvedEdge{
			Source:       edge.Source,
			Target:       edge.Target,
			ResolvedPath: resolvedPath,
			Kind:         parsers.EdgeImportsInternal,
			Line:         edge.Line,
			Symbols:      edge.Symbols,
		}
	}

	// 1. Check alias map (monorepo package names like @company/auth)
	if resolved := resolveViaAliasMap(specifier, aliasMap, fileSet); resolved != "" {
		return makeResolved(resolved), statusResolved
	}

	// 2. Check tsconfig path aliases (e.g., @/* → src/*), resolved against the
	// project that owns sourceFile.
	tsconfigPaths := lookupPaths(sourceFile)
	if resolved := resolveViaTSConfigPaths(specifier, tsconfigPaths, fileSet); resolved != "" {
		return makeResolved(resolved), statusResolved
	}

	// 3. Relative imports (./foo, ../bar)
	if strings.HasPrefix(specifier, ".") {
		sourceDir := filepath.Dir(sourceFile)
		if resolved := resolveRelativeImport(specifier, sourceDir, fileSet); resolved != "" {
			return makeResolved(resolved), statusResolved
		}
	}

	// Unresolved — external npm package or unknown module
	return nil, statusUnresolved
}

// resolveViaAliasMap checks if the specifier matches a monorepo package name.
func resolveViaAliasMap(specifier string, aliasMap map[string]string, fileSet map[string]bool) string {
	if entryPoint, ok := aliasMap[specifier]; ok {
		if fileSet[entryPoint] {
			return entryPoint
		}
		if resolved := tryExtensions(entryPoint, fileSet); resolved != "" {
			return resolved
		}
	}

	for alias, entryPoint := range aliasMap {
		if !strings.HasPrefix(specifier, alias+"/") {
			continue
		}
		rest := strings.TrimPrefix(specifier, alias+"/")

		pkgRoot := entryPointToPackageRoot(entryPoint)

		candidate := filepath.Join(pkgRoot, rest)
		if resolved := tryExtensions(candidate, fileSet); resolved != "" {
			return resolved
		}

		candidate = filepath.Join(pkgRoot, "src", rest)
		if resolved := tryExtensions(candidate, fileSet); resolved != "" {
			return resolved
		}
	}

	return ""
}

// entryPointToPackageRoot extracts the package root directory from an entry point path.
// "packages/core/src/index.ts" → "packages/core"
func entryPointToPackageRoot(entryPoint string) string {
	dir := filepath.Dir(entryPoint)
	base := filepath.Base(dir)
	if base == "src" || base == "lib" || base == "dist" {
		return filepath.Dir(dir)
	}
	return dir
}

// resolveViaTSConfigPaths checks tsconfig path aliases.
func resolveViaTSConfigPaths(specifier string, tsconfigPaths map[string]string, fileSet map[string]bool) string {
	for alias, target := range tsconfigPaths {
		if strings.HasSuffix(alias, "/*") {
			prefix := strings.TrimSuffix(alias, "/*")
			if strings.HasPrefix(specifier, prefix+"/") {
				rest := strings.TrimPrefix(specifier, prefix+"/")
				targetDir := strings.TrimSuffix(target, "/*")
				targetDir = strings.TrimRight(targetDir, "/")
				candidate := filepath.Join(targetDir, rest)
				if resolved := tryExtensions(candidate, fileSet); resolved != "" {
					return resolved
				}
			}
		} else if specifier == alias {
			if resolved := tryExtensions(target, fileSet); resolved != "" {
				return resolved
			}
		}
	}
	return ""
}

// resolveRelativeImport resolves a relative import like ./utils or ../shared.
func resolveRelativeImport(specifier, sourceDir string, fileSet map[string]bool) string {
	candidate := filepath.Join(sourceDir, specifier)
	candidate = filepath.Clean(candidate)
	return tryExtensions(candidate, fileSet)
}

// resolveCallEdge attempts to resolve a call edge by tracing through imports.
func resolveCallEdge(
	edge parsers.EdgeInfo,
	nodesByFile map[string][]parsers.NodeInfo,
	importedSymbols map[string]map[string]string,
	nodesByName map[string][]parsers.NodeInfo,
) *ResolvedEdge {
	callerName := edge.Source
	calleeName := edge.Target

	if isGlobalCall(calleeName) {
		return nil
	}

	callerFile := findFileForNode(callerName, nodesByFile)
	if callerFile != "" {
		for _, node := range nodesByFile[callerFile] {
			if node.QualifiedName == calleeName || node.Name == calleeName {
				return &ResolvedEdge{
					Source:       edge.Source,
					Target:       node.QualifiedName,
					ResolvedPath: callerFile,
					Kind:         parsers.EdgeCalls,
					Line:         edge.Line,
				}
			}
		}
	}

	simpleName := calleeName
	if idx := strings.LastIndex(calleeName, "."); idx != -1 {
		simpleName = calleeName[idx+1:]
	}

	if callerFile != "" {
		if imports, ok := importedSymbols[callerFile]; ok {
			if sourceFile, found := imports[simpleName]; found {
				for _, node := range nodesByFile[sourceFile] {
					if node.Name == simpleName || node.QualifiedName == simpleName {
						return &ResolvedEdge{
							Source:       edge.Source,
							Target:       node.QualifiedName,
							ResolvedPath: sourceFile,
							Kind:         parsers.EdgeCalls,
							Line:         edge.Line,
						}
					}
				}
			}
		}
	}

	// Global search by name — only if unambiguous (exactly one match). Skip
	// member calls whose simple name is a common prototype method, e.g.
	// "user.email.split" would otherwise falsely match a user-defined split().
	isMemberCall := strings.Contains(calleeName, ".")
	if isMemberCall && isBuiltinMethodName(simpleName) {
		return nil
	}
	if matches, ok := nodesByName[simpleName]; ok && len(matches) == 1 {
		return &ResolvedEdge{
			Source:       edge.Source,
			Target:       matches[0].QualifiedName,
			ResolvedPath: findFileForNode(matches[0].QualifiedName, nodesByFile),
			Kind:         parsers.EdgeCalls,
			Line:         edge.Line,
		}
	}

	return nil
}

// --- Helper functions ---

func buildFileSet(allFiles []string) map[string]bool {
	set := make(map[string]bool, len(allFiles))
	for _, f := range allFiles {
		set[f] = true
	}
	return set
}

// buildNodesByFile maps file path -> nodes in that file, read directly off
// each node's FilePath field.
func buildNodesByFile(nodes []parsers.NodeInfo) map[string][]parsers.NodeInfo {
	byFile := make(map[string][]parsers.NodeInfo)
	for _, n := range nodes {
		byFile[n.FilePath] = append(byFile[n.FilePath], n)
	}
	return byFile
}

// buildFileImportEdges maps file path -> its own "imports" edges, used to
// walk re-export chains starting from a barrel file.
func buildFileImportEdges(edges []parsers.EdgeInfo) map[string][]parsers.EdgeInfo {
	byFile := make(map[string][]parsers.EdgeInfo)
	for _, e := range edges {
		if e.Kind == parsers.EdgeImportsInternal {
			byFile[e.Source] = append(byFile[e.Source], e)
		}
	}
	return byFile
}

// buildImportedSymbolMap maps: file → (symbol name → import specifier).
func buildImportedSymbolMap(edges []parsers.EdgeInfo) map[string]map[string]string {
	result := make(map[string]map[string]string)
	for _, e := range edges {
		if e.Kind != parsers.EdgeImportsInternal {
			continue
		}
		if result[e.Source] == nil {
			result[e.Source] = make(map[string]string)
		}
		for _, sym := range e.Symbols {
			sym = strings.TrimPrefix(sym, "* as ")
			result[e.Source][sym] = e.Target
		}
	}
	return result
}

func buildNodesByName(nodes []parsers.NodeInfo) map[string][]parsers.NodeInfo {
	byName := make(map[string][]parsers.NodeInfo)
	for _, n := range nodes {
		byName[n.Name] = append(byName[n.Name], n)
	}
	return byName
}

func findFileForNode(qualifiedName string, nodesByFile map[string][]parsers.NodeInfo) string {
	for file, nodes := range nodesByFile {
		for _, n := range nodes {
			if n.QualifiedName == qualifiedName {
				return file
			}
		}
	}
	return ""
}

// tryExtensions resolves a path by appending TS/JS extensions and /index variants.
func tryExtensions(candidate string, fileSet map[string]bool) string {
	if fileSet[candidate] {
		return candidate
	}

	for _, ext := range tsExtensions {
		if fileSet[candidate+ext] {
			return candidate + ext
		}
	}

	for _, ext := range tsExtensions {
		indexPath := filepath.Join(candidate, "index"+ext)
		if fileSet[indexPath] {
			return indexPath
		}
	}

	if strings.HasSuffix(candidate, ".js") {
		base := strings.TrimSuffix(candidate, ".js")
		if fileSet[base+".ts"] {
			return base + ".ts"
		}
		if fileSet[base+".tsx"] {
			return base + ".tsx"
		}
	}

	return ""
}

func isNodeBuiltin(specifier string) bool {
	mod := strings.TrimPrefix(specifier, "node:")
	if idx := strings.Index(mod, "/"); idx != -1 {
		mod = mod[:idx]
	}
	return nodeBuiltins[mod]
}

func isGlobalCall(name string) bool {
	switch name {
	case "console.log", "console.error", "console.warn", "console.info",
		"JSON.stringify", "JSON.parse",
		"Promise.resolve", "Promise.reject", "Promise.all",
		"Math.round", "Math.floor", "Math.ceil", "Math.random",
		"parseInt", "parseFloat", "setTimeout", "setInterval",
		"clearTimeout", "clearInterval",
		"require", "super":
		return true
	}
	for _, prefix := range []string{"console.", "Math.", "Object.", "Array.", "String.", "Number.", "Promise."} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// isBuiltinMethodName returns true for method names that are common on
// JS built-in types (String, Array, Map, etc.). When a call like
// "obj.split()" is extracted, tier-3 global resolution should not match it
// to an unrelated user-defined function named "split".
var builtinMethodNames = map[string]bool{
	"split": true, "replace": true, "replaceAll": true, "match": true,
	"trim": true, "trimStart": true, "trimEnd": true, "toLowerCase": true,
	"toUpperCase": true, "startsWith": true, "endsWith": true, "includes": true,
	"indexOf": true, "lastIndexOf": true, "slice": true, "substring": true,
	"charAt": true, "charCodeAt": true, "padStart": true, "padEnd": true,
	"repeat": true, "normalize": true, "search": true, "at": true,
	"push": true, "pop": true, "shift": true, "unshift": true,
	"map": true, "filter": true, "reduce": true, "reduceRight": true,
	"find": true, "findIndex": true, "some": true, "every": true,
	"forEach": true, "flat": true, "flatMap": true, "sort": true,
	"reverse": true, "concat": true, "join": true, "fill": true,
	"splice": true, "keys": true, "values": true, "entries": true,
	"hasOwnProperty": true, "toString": true, "valueOf": true,
	"toJSON": true, "toLocaleString": true,
	"then": true, "catch": true, "finally": true,
	"get": true, "set": true, "has": true, "clear": true, "add": true,
	"getTime": true, "toISOString": true, "toDateString": true,
	"addEventListener": true, "removeEventListener": true,
	"querySelector": true, "querySelectorAll": true,
	"getAttribute": true, "setAttribute": true,
	"createElement": true, "appendChild": true, "removeChild": true,
}

func isBuiltinMethodName(name string) bool {
	return builtinMethodNames[name]
}

// trackPackageDep records a package-level dependency based on file-level imports.
func trackPackageDep(deps map[string]map[string]bool, sourceFile, targetFile, rootPath string) {
	srcPkg := packageForFile(sourceFile)
	tgtPkg := packageForFile(targetFile)
	if srcPkg == tgtPkg || srcPkg == "" || tgtPkg == "" {
		return
	}
	if deps[srcPkg] == nil {
		deps[srcPkg] = make(map[string]bool)
	}
	deps[srcPkg][tgtPkg] = true
}

// packageForFile extracts the package directory from a file path.
// "packages/auth/src/validators.ts" → "packages/auth"
func packageForFile(filePath string) string {
	parts := strings.Split(filepath.ToSlash(filePath), "/")
	if len(parts) < 2 {
		return ""
	}
	for i, part := range parts {
		if (part == "packages" || part == "apps" || part == "libs" || part == "services" ||
			part == "internal" || part == "cmd" || part == "pkg") && i+1 < len(parts) {
			return parts[i] + "/" + parts[i+1]
		}
	}
	return ""
}
