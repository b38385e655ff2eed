package parsers

import (
	"fmt"
	"path/filepath"
)

/**
 * This is the main parser file and acts as the entry point
 * to extend the parser to support another language, create a parser and
 * simply extend the `init()` function below.
 */

// Node kinds, per the data model: a stable id is
// "{relative-file-path}:{kind}:{symbol-path}".
const (
	KindFunction  = "Function"
	KindClass     = "Class"
	KindMethod    = "Method"
	KindInterface = "Interface"
	KindTypeAlias = "TypeAlias"
	KindVariable  = "Variable"
	KindProperty  = "Property"
	KindFile      = "File"
	KindEnum      = "Enum"
)

// Edge kinds. CALLS and INCLUDES additionally carry call-site ranges and a
// count (see LineRange/EdgeInfo below). The remaining kinds below this block
// ("imports", "contains", "reexport_*") are internal bookkeeping used during
// resolution and are never persisted as graph edges.
const (
	EdgeCalls       = "CALLS"
	EdgeIncludes    = "INCLUDES"
	EdgeExtends     = "EXTENDS"
	EdgeImplements  = "IMPLEMENTS"
	EdgeTakes       = "TAKES"
	EdgeReturns     = "RETURNS"
	EdgeHasType     = "HAS_TYPE"
	EdgeHasProperty = "HAS_PROPERTY"
	EdgeDerivesFrom = "DERIVES_FROM"
	EdgeAliasFor    = "ALIAS_FOR"
	EdgeReferences  = "REFERENCES"

	// Internal-only, never written to the graph store.
	EdgeImportsInternal = "imports"
	EdgeContainsInternal = "contains"
	// Re-export chain links, consumed by the import resolver to reach a
	// terminal declaration; barrels themselves produce no nodes or edges.
	EdgeReexportNamed          = "reexport_named"
	EdgeReexportStar           = "reexport_star"
	EdgeReexportStarNamespace  = "reexport_star_as_namespace"
	EdgeReexportDefaultAsNamed = "reexport_default_as_named"
)

// REFERENCES sub-contexts (spec.md §3).
const (
	RefContextCallback    = "callback"
	RefContextProperty    = "property"
	RefContextArray       = "array"
	RefContextReturn      = "return"
	RefContextAssignment  = "assignment"
	RefContextAccess      = "access"
)

// ParamInfo is one function/method parameter.
type ParamInfo struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// LineRange is a 1-based inclusive {start,end} call-site range.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// NodeInfo describes one declared code symbol, populated by a node
// extractor. FilePath + Kind + QualifiedName together form the node's
// stable id.
type NodeInfo struct {
	Name          string `json:"name"`
	QualifiedName string `json:"qualifiedName"`
	Kind          string `json:"kind"`
	FilePath      string `json:"filePath"`
	Package       string `json:"package,omitempty"`
	Exported      bool   `json:"exported"`
	Signature     string `json:"signature"`
	StartLine     int    `json:"startLine"`
	EndLine       int    `json:"endLine"`
	SourceCode    string `json:"sourceCode"`
	Docstring     string `json:"docstring"`
	BodyHash      string `json:"bodyHash"`

	// Kind-specific metadata. Only the fields relevant to Kind are set.
	Params      []ParamInfo `json:"params,omitempty"`
	ReturnType  string      `json:"returnType,omitempty"`
	Extends     []string    `json:"extends,omitempty"`
	Implements  []string    `json:"implements,omitempty"`
	PropertyType string     `json:"propertyType,omitempty"`
	Optional    bool        `json:"optional,omitempty"`
	Readonly    bool        `json:"readonly,omitempty"`
	IsConst     bool        `json:"isConst,omitempty"`
	AliasedType string      `json:"aliasedType,omitempty"`
	DerivedTypes []string   `json:"derivedTypes,omitempty"`
}

// EdgeInfo is a directed, typed relation discovered during extraction.
// Source/Target are qualified names (or, for "imports"/"reexport_*", a
// module specifier) until the import resolver rewrites Target to a node id.
type EdgeInfo struct {
	Source     string      `json:"source"`
	Target     string      `json:"target"`
	Kind       string      `json:"kind"`
	Line       int         `json:"line"`
	Symbols    []string    `json:"symbols,omitempty"`
	CallSites  []LineRange `json:"callSites,omitempty"`
	Count      int         `json:"count,omitempty"`
	RefContext string      `json:"refContext,omitempty"`
}

type ParseResult struct {
	Nodes []NodeInfo `json:"nodes"`
	Edges []EdgeInfo `json:"edges"`
}

func (r *ParseResult) Stats() map[string]any {
	nodesByKind := make(map[string]int)
	for _, n := range r.Nodes {
		nodesByKind[n.Kind]++
	}
	edgesByKind := make(map[string]int)
	for _, e := range r.Edges {
		edgesByKind[e.Kind]++
	}
	return map[string]any{
		"nodeCount":   len(r.Nodes),
		"edgeCount":   len(r.Edges),
		"byKind":      nodesByKind,
		"edgesByKind": edgesByKind,
	}
}

type Parser interface {
	Parse(filePath string, source []byte) (*ParseResult, error)
}

var registry map[string]Parser

func init() {
	ts := NewTypeScriptParser()
	registry = map[string]Parser{
		".ts":  ts,
		".tsx": ts,
		".js":  ts,
		".jsx": ts,
	}
}

func ParseFile(filePath string, source []byte) (*ParseResult, error) {
	ext := filepath.Ext(filePath)
	p, ok := registry[ext]
	if !ok {
		return nil, fmt.Errorf("no parser registered for extension %q", ext)
	}
	return p.Parse(filePath, source)
}
