package parsers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

var _ Parser = (*TypeScriptParser)(nil)

type TypeScriptParser struct{}

func NewTypeScriptParser() *TypeScriptParser {
	return &TypeScriptParser{}
}

func (p *TypeScriptParser) Parse(filePath string, source []byte) (*ParseResult, error) {
	lang, err := p.languageForExt(filepath.Ext(filePath))
	if err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	result := &ParseResult{}
	root := tree.RootNode()
	p.walkTopLevel(source, root, "", filePath, result)
	p.extractEdges(source, root, filePath, result)
	return result, nil
}

func (p *TypeScriptParser) languageForExt(ext string) (*sitter.Language, error) {
	switch ext {
	case ".ts":
		return typescript.GetLanguage(), nil
	case ".tsx", ".jsx":
		return tsx.GetLanguage(), nil
	case ".js":
		return javascript.GetLanguage(), nil
	default:
		return nil, fmt.Errorf("unsupported extension: %s", ext)
	}
}

func (p *TypeScriptParser) walkTopLevel(source []byte, node *sitter.Node, parentName, filePath string, result *ParseResult) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		p.extractNode(source, child, parentName, filePath, false, result)
	}
}

func (p *TypeScriptParser) extractNode(source []byte, node *sitter.Node, parentName, filePath string, exported bool, result *ParseResult) {
	switch node.Type() {
	case "function_declaration":
		p.extractFunction(source, node, parentName, filePath, exported, result)

	case "class_declaration", "abstract_class_declaration":
		p.extractClass(source, node, filePath, exported, result)

	case "interface_declaration":
		p.extractInterface(source, node, filePath, exported, result)

	case "type_alias_declaration":
		p.extractTypeAlias(source, node, filePath, exported, result)

	case "enum_declaration":
		p.extractSimpleDecl(source, node, KindEnum, parentName, filePath, exported, result)

	case "lexical_declaration":
		p.extractLexicalDecl(source, node, parentName, filePath, exported, result)

	case "export_statement":
		p.extractExport(source, node, parentName, filePath, result)
	}
}

func (p *TypeScriptParser) extractFunction(source []byte, node *sitter.Node, parentName, filePath string, exported bool, result *ParseResult) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeContent(source, nameNode)
	qname := qualifiedName(parentName, name)

	// Skip overload signatures (no body)
	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}

	info := NodeInfo{
		Name:          name,
		QualifiedName: qname,
		Kind:          KindFunction,
		FilePath:      filePath,
		Exported:      exported,
		Signature:     extractSignature(source, node),
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		SourceCode:    nodeContent(source, node),
		Docstring:     extractDocstring(source, node),
		BodyHash:      computeBodyHash(source, node),
		Params:        extractParams(source, node),
		ReturnType:    extractReturnType(source, node),
	}
	result.Nodes = append(result.Nodes, info)
}

func (p *TypeScriptParser) extractClass(source []byte, node *sitter.Node, filePath string, exported bool, result *ParseResult) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeContent(source, nameNode)
	extendsList, implementsList := extractHeritage(source, node)

	info := NodeInfo{
		Name:          name,
		QualifiedName: name,
		Kind:          KindClass,
		FilePath:      filePath,
		Exported:      exported,
		Signature:     extractSignature(source, node),
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		SourceCode:    nodeContent(source, node),
		Docstring:     extractDocstring(source, node),
		BodyHash:      computeBodyHash(source, node),
		Extends:       extendsList,
		Implements:    implementsList,
	}
	result.Nodes = append(result.Nodes, info)

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		switch child.Type() {
		case "method_definition":
			p.extractMethod(source, child, name, filePath, result)
		case "public_field_definition":
			p.extractClassProperty(source, child, name, filePath, result)
		}
	}
}

func (p *TypeScriptParser) extractMethod(source []byte, node *sitter.Node, className, filePath string, result *ParseResult) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeContent(source, nameNode)

	info := NodeInfo{
		Name:          name,
		QualifiedName: className + "." + name,
		Kind:          KindMethod,
		FilePath:      filePath,
		Signature:     extractSignature(source, node),
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		SourceCode:    nodeContent(source, node),
		Docstring:     extractDocstring(source, node),
		BodyHash:      computeBodyHash(source, node),
		Params:        extractParams(source, node),
		ReturnType:    extractReturnType(source, node),
	}
	result.Nodes = append(result.Nodes, info)
}

func (p *TypeScriptParser) extractClassProperty(source []byte, node *sitter.Node, className, filePath string, result *ParseResult) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeContent(source, nameNode)
	readonly := false
	optional := false
	for i := 0; i < int(node.ChildCount()); i++ {
		c := node.Child(i)
		if c.Type() == "readonly" {
			readonly = true
		}
		if c.Type() == "?" {
			optional = true
		}
	}

	info := NodeInfo{
		Name:          name,
		QualifiedName: className + "." + name,
		Kind:          KindProperty,
		FilePath:      filePath,
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		SourceCode:    nodeContent(source, node),
		Docstring:     extractDocstring(source, node),
		BodyHash:      computeBodyHash(source, node),
		PropertyType:  extractAnnotationType(source, node),
		Readonly:      readonly,
		Optional:      optional,
	}
	result.Nodes = append(result.Nodes, info)
}

func (p *TypeScriptParser) extractInterface(source []byte, node *sitter.Node, filePath string, exported bool, result *ParseResult) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeContent(source, nameNode)
	extendsList, _ := extractHeritage(source, node)

	info := NodeInfo{
		Name:          name,
		QualifiedName: name,
		Kind:          KindInterface,
		FilePath:      filePath,
		Exported:      exported,
		Signature:     extractSignature(source, node),
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		SourceCode:    nodeContent(source, node),
		Docstring:     extractDocstring(source, node),
		BodyHash:      computeBodyHash(source, node),
		Extends:       extendsList,
	}
	result.Nodes = append(result.Nodes, info)

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		if member.Type() != "property_signature" && member.Type() != "method_signature" {
			continue
		}
		memberName := member.ChildByFieldName("name")
		if memberName == nil {
			continue
		}
		mName := nodeContent(source, memberName)
		optional := false
		for j := 0; j < int(member.ChildCount()); j++ {
			if member.Child(j).Type() == "?" {
				optional = true
			}
		}
		result.Nodes = append(result.Nodes, NodeInfo{
			Name:          mName,
			QualifiedName: name + "." + mName,
			Kind:          KindProperty,
			FilePath:      filePath,
			StartLine:     int(member.StartPoint().Row) + 1,
			EndLine:       int(member.EndPoint().Row) + 1,
			SourceCode:    nodeContent(source, member),
			PropertyType:  extractAnnotationType(source, member),
			Optional:      optional,
		})
	}
}

func (p *TypeScriptParser) extractTypeAlias(source []byte, node *sitter.Node, filePath string, exported bool, result *ParseResult) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeContent(source, nameNode)
	value := node.ChildByFieldName("value")

	info := NodeInfo{
		Name:          name,
		QualifiedName: name,
		Kind:          KindTypeAlias,
		FilePath:      filePath,
		Exported:      exported,
		Signature:     extractSignature(source, node),
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		SourceCode:    nodeContent(source, node),
		Docstring:     extractDocstring(source, node),
		BodyHash:      computeBodyHash(source, node),
	}
	if value != nil {
		switch value.Type() {
		case "type_identifier":
			info.AliasedType = nodeContent(source, value)
		case "union_type", "intersection_type":
			info.DerivedTypes = splitTypeIdentifiers(nodeContent(source, value))
		}
	}
	result.Nodes = append(result.Nodes, info)
}

func (p *TypeScriptParser) extractSimpleDecl(source []byte, node *sitter.Node, kind, parentName, filePath string, exported bool, result *ParseResult) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nodeContent(source, nameNode)
	qname := qualifiedName(parentName, name)

	info := NodeInfo{
		Name:          name,
		QualifiedName: qname,
		Kind:          kind,
		FilePath:      filePath,
		Exported:      exported,
		Signature:     extractSignature(source, node),
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		SourceCode:    nodeContent(source, node),
		Docstring:     extractDocstring(source, node),
		BodyHash:      computeBodyHash(source, node),
	}
	result.Nodes = append(result.Nodes, info)
}

func (p *TypeScriptParser) extractLexicalDecl(source []byte, node *sitter.Node, parentName, filePath string, exported bool, result *ParseResult) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		decl := node.NamedChild(i)
		if decl.Type() != "variable_declarator" {
			continue
		}
		nameNode := decl.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := nodeContent(source, nameNode)
		qname := qualifiedName(parentName, name)
		value := decl.ChildByFieldName("value")

		isFn := value != nil && (value.Type() == "arrow_function" || value.Type() == "function_expression" || value.Type() == "function")

		isConst := false
		if kw := node.Child(0); kw != nil && kw.Type() == "const" {
			isConst = true
		}

		if isFn {
			info := NodeInfo{
				Name:          name,
				QualifiedName: qname,
				Kind:          KindFunction,
				FilePath:      filePath,
				Exported:      exported,
				Signature:     extractArrowSignature(source, decl),
				StartLine:     int(node.StartPoint().Row) + 1,
				EndLine:       int(node.EndPoint().Row) + 1,
				SourceCode:    nodeContent(source, node),
				Docstring:     extractDocstring(source, node),
				BodyHash:      computeBodyHash(source, node),
				Params:        extractParams(source, value),
				ReturnType:    extractReturnType(source, value),
				IsConst:       isConst,
			}
			result.Nodes = append(result.Nodes, info)
			continue
		}

		info := NodeInfo{
			Name:          name,
			QualifiedName: qname,
			Kind:          KindVariable,
			FilePath:      filePath,
			Exported:      exported,
			Signature:     extractSignature(source, decl),
			StartLine:     int(node.StartPoint().Row) + 1,
			EndLine:       int(node.EndPoint().Row) + 1,
			SourceCode:    nodeContent(source, node),
			Docstring:     extractDocstring(source, node),
			BodyHash:      computeBodyHash(source, node),
			PropertyType:  extractAnnotationType(source, decl),
			IsConst:       isConst,
		}
		result.Nodes = append(result.Nodes, info)
	}
}

func (p *TypeScriptParser) extractExport(source []byte, node *sitter.Node, parentName, filePath string, result *ParseResult) {
	// JSDoc comments are siblings of the export_statement, not the inner declaration.
	// Capture the docstring from the export node so we can attach it to the inner declaration.
	exportDocstring := extractDocstring(source, node)
	before := len(result.Nodes)

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "function_declaration":
			nameNode := child.ChildByFieldName("name")
			if nameNode == nil {
				body := child.ChildByFieldName("body")
				if body == nil {
					continue
				}
				info := NodeInfo{
					Name:          "default",
					QualifiedName: qualifiedName(parentName, "default"),
					Kind:          KindFunction,
					FilePath:      filePath,
					Exported:      true,
					Signature:     extractSignature(source, child),
					StartLine:     int(node.StartPoint().Row) + 1,
					EndLine:       int(node.EndPoint().Row) + 1,
					SourceCode:    nodeContent(source, node),
					Docstring:     exportDocstring,
					BodyHash:      computeBodyHash(source, node),
					Params:        extractParams(source, child),
					ReturnType:    extractReturnType(source, child),
				}
				result.Nodes = append(result.Nodes, info)
			} else {
				p.extractFunction(source, child, parentName, filePath, true, result)
			}

		case "class_declaration", "abstract_class_declaration":
			p.extractClass(source, child, filePath, true, result)

		case "interface_declaration":
			p.extractInterface(source, child, filePath, true, result)

		case "type_alias_declaration":
			p.extractTypeAlias(source, child, filePath, true, result)

		case "enum_declaration":
			p.extractSimpleDecl(source, child, KindEnum, parentName, filePath, true, result)

		case "lexical_declaration":
			p.extractLexicalDecl(source, child, parentName, filePath, true, result)
		}
	}

	if exportDocstring == "" {
		return
	}
	for j := before; j < len(result.Nodes); j++ {
		if result.Nodes[j].Docstring == "" {
			result.Nodes[j].Docstring = exportDocstring
		}
	}
}

func qualifiedName(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// extractSignature returns the first line of the node (declaration line).
func extractSignature(source []byte, node *sitter.Node) string {
	text := nodeContent(source, node)
	if idx := strings.Index(text, "{"); idx != -1 {
		return strings.TrimSpace(text[:idx])
	}
	lines := strings.SplitN(text, "\n", 2)
	return strings.TrimSpace(lines[0])
}

func extractArrowSignature(source []byte, declarator *sitter.Node) string {
	text := nodeContent(source, declarator)
	if idx := strings.Index(text, "=>"); idx != -1 {
		return strings.TrimSpace(text[:idx+2])
	}
	lines := strings.SplitN(text, "\n", 2)
	return strings.TrimSpace(lines[0])
}

// extractParams reads the parameter list of a function/method/arrow node.
func extractParams(source []byte, node *sitter.Node) []ParamInfo {
	params := node.ChildByFieldName("parameters")
	if params == nil {
		return nil
	}
	var out []ParamInfo
	for i := 0; i < int(params.NamedChildCount()); i++ {
		param := params.NamedChild(i)
		var nameNode, typeNode *sitter.Node
		switch param.Type() {
		case "required_parameter", "optional_parameter":
			nameNode = param.ChildByFieldName("pattern")
			typeNode = param.ChildByFieldName("type")
		case "identifier":
			nameNode = param
		default:
			nameNode = param.ChildByFieldName("pattern")
		}
		if nameNode == nil {
			continue
		}
		p := ParamInfo{Name: nodeContent(source, nameNode)}
		if typeNode != nil {
			p.Type = strings.TrimPrefix(nodeContent(source, typeNode), ":")
			p.Type = strings.TrimSpace(p.Type)
		}
		out = append(out, p)
	}
	return out
}

// extractReturnType reads a function/method's return type annotation, if any.
func extractReturnType(source []byte, node *sitter.Node) string {
	if node == nil {
		return ""
	}
	rt := node.ChildByFieldName("return_type")
	if rt == nil {
		return ""
	}
	text := nodeContent(source, rt)
	return strings.TrimSpace(strings.TrimPrefix(text, ":"))
}

// extractAnnotationType reads a variable/property's `: Type` annotation.
func extractAnnotationType(source []byte, node *sitter.Node) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		c := node.Child(i)
		if c.Type() == "type_annotation" {
			text := nodeContent(source, c)
			return strings.TrimSpace(strings.TrimPrefix(text, ":"))
		}
	}
	return ""
}

// extractHeritage reads a class/interface's extends/implements clauses.
func extractHeritage(source []byte, node *sitter.Node) (extends, implements []string) {
	heritage := findChildByType(node, "class_heritage")
	if heritage == nil {
		// interfaces use extends_type_clause directly under the declaration
		for i := 0; i < int(node.ChildCount()); i++ {
			c := node.Child(i)
			if c.Type() == "extends_type_clause" {
				for j := 0; j < int(c.NamedChildCount()); j++ {
					extends = append(extends, nodeContent(source, c.NamedChild(j)))
				}
			}
		}
		return extends, implements
	}
	for i := 0; i < int(heritage.ChildCount()); i++ {
		child := heritage.Child(i)
		switch child.Type() {
		case "extends_clause":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				target := child.NamedChild(j)
				extends = append(extends, nodeContent(source, target))
			}
		case "implements_clause":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				target := child.NamedChild(j)
				if target.Type() == "type_identifier" {
					implements = append(implements, nodeContent(source, target))
				}
			}
		}
	}
	return extends, implements
}

// --- Edge extraction ---

func (p *TypeScriptParser) extractEdges(source []byte, root *sitter.Node, filePath string, result *ParseResult) {
	p.extractImportEdges(source, root, filePath, result)
	p.extractContainsEdges(filePath, result)
	p.extractClassEdges(result)
	p.extractCallEdges(source, root, result)
	p.extractTypeRelationEdges(source, root, result)
	p.extractJSXIncludesEdges(source, root, result)
	p.extractReferenceEdges(source, root, result)
}

func (p *TypeScriptParser) extractImportEdges(source []byte, root *sitter.Node, filePath string, result *ParseResult) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() != "import_statement" {
			continue
		}

		moduleNode := findChildByType(child, "string")
		if moduleNode == nil {
			continue
		}
		module := stripQuotes(nodeContent(source, moduleNode))

		var symbols []string
		clause := findChildByType(child, "import_clause")
		if clause != nil {
			symbols = extractImportSymbols(source, clause)
		}

		result.Edges = append(result.Edges, EdgeInfo{
			Source:  filePath,
			Target:  module,
			Kind:    EdgeImportsInternal,
			Line:    int(child.StartPoint().Row) + 1,
			Symbols: symbols,
		})
	}
}

func extractImportSymbols(source []byte, clause *sitter.Node) []string {
	var symbols []string
	for i := 0; i < int(clause.ChildCount()); i++ {
		child := clause.Child(i)
		switch child.Type() {
		case "identifier":
			symbols = append(symbols, nodeContent(source, child))
		case "named_imports":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				spec := child.NamedChild(j)
				if spec.Type() == "import_specifier" {
					name := spec.ChildByFieldName("name")
					if name != nil {
						symbols = append(symbols, nodeContent(source, name))
					}
				}
			}
		case "namespace_import":
			for j := 0; j < int(child.ChildCount()); j++ {
				c := child.Child(j)
				if c.Type() == "identifier" {
					symbols = append(symbols, "* as "+nodeContent(source, c))
					break
				}
			}
		}
	}
	return symbols
}

// extractContainsEdges records file->symbol structural containment. This is
// internal bookkeeping, never persisted as a graph edge: a node's own
// FilePath field already carries this information.
func (p *TypeScriptParser) extractContainsEdges(filePath string, result *ParseResult) {
	for _, node := range result.Nodes {
		switch node.Kind {
		case KindClass, KindFunction, KindInterface, KindTypeAlias, KindEnum, KindVariable:
			result.Edges = append(result.Edges, EdgeInfo{
				Source: filePath,
				Target: node.QualifiedName,
				Kind:   EdgeContainsInternal,
				Line:   node.StartLine,
			})
		case KindMethod, KindProperty:
			parts := strings.SplitN(node.QualifiedName, ".", 2)
			if len(parts) == 2 {
				result.Edges = append(result.Edges, EdgeInfo{
					Source: parts[0],
					Target: node.QualifiedName,
					Kind:   EdgeContainsInternal,
					Line:   node.StartLine,
				})
			}
		}
	}
}

// extractClassEdges turns NodeInfo.Extends/Implements/AliasedType (already
// populated while walking declarations) into EXTENDS/IMPLEMENTS/DERIVES_FROM/
// ALIAS_FOR/HAS_PROPERTY edges.
func (p *TypeScriptParser) extractClassEdges(result *ParseResult) {
	for _, node := range result.Nodes {
		switch node.Kind {
		case KindClass, KindInterface:
			for _, target := range node.Extends {
				result.Edges = append(result.Edges, EdgeInfo{
					Source: node.QualifiedName,
					Target: target,
					Kind:   EdgeExtends,
					Line:   node.StartLine,
				})
			}
			for _, target := range node.Implements {
				result.Edges = append(result.Edges, EdgeInfo{
					Source: node.QualifiedName,
					Target: target,
					Kind:   EdgeImplements,
					Line:   node.StartLine,
				})
			}
		case KindTypeAlias:
			if node.AliasedType != "" && !isBuiltinType(node.AliasedType) {
				result.Edges = append(result.Edges, EdgeInfo{
					Source: node.QualifiedName,
					Target: node.AliasedType,
					Kind:   EdgeAliasFor,
					Line:   node.StartLine,
				})
			}
			for _, member := range node.DerivedTypes {
				result.Edges = append(result.Edges, EdgeInfo{
					Source: node.QualifiedName,
					Target: member,
					Kind:   EdgeDerivesFrom,
					Line:   node.StartLine,
				})
			}
		case KindProperty:
			parts := strings.SplitN(node.QualifiedName, ".", 2)
			if len(parts) == 2 {
				result.Edges = append(result.Edges, EdgeInfo{
					Source: parts[0],
					Target: node.QualifiedName,
					Kind:   EdgeHasProperty,
					Line:   node.StartLine,
				})
			}
			if node.PropertyType != "" {
				for _, t := range splitTypeIdentifiers(node.PropertyType) {
					result.Edges = append(result.Edges, EdgeInfo{
						Source: node.QualifiedName,
						Target: t,
						Kind:   EdgeHasType,
						Line:   node.StartLine,
					})
				}
			}
		case KindVariable:
			if node.PropertyType != "" {
				for _, t := range splitTypeIdentifiers(node.PropertyType) {
					result.Edges = append(result.Edges, EdgeInfo{
						Source: node.QualifiedName,
						Target: t,
						Kind:   EdgeHasType,
						Line:   node.StartLine,
					})
				}
			}
		}
	}
}

func (p *TypeScriptParser) extractCallEdges(source []byte, root *sitter.Node, result *ParseResult) {
	for _, node := range result.Nodes {
		if node.Kind != KindFunction && node.Kind != KindMethod {
			continue
		}
		astNode := findDeclAtLine(root, node.StartLine-1)
		if astNode == nil {
			continue
		}
		body := findBody(astNode)
		if body == nil {
			continue
		}
		p.collectCalls(source, body, node.QualifiedName, result)
	}
}

func (p *TypeScriptParser) collectCalls(source []byte, node *sitter.Node, callerName string, result *ParseResult) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)

		if child.Type() == "arrow_function" || child.Type() == "function_expression" || child.Type() == "function_declaration" {
			continue
		}

		if child.Type() == "call_expression" {
			callee := child.ChildByFieldName("function")
			if callee != nil {
				calleeName := extractCalleeName(source, callee)
				if calleeName != "" {
					line := int(child.StartPoint().Row) + 1
					result.Edges = append(result.Edges, EdgeInfo{
						Source:    callerName,
						Target:    calleeName,
						Kind:      EdgeCalls,
						Line:      line,
						CallSites: []LineRange{{Start: line, End: int(child.EndPoint().Row) + 1}},
						Count:     1,
					})
				}
			}
		}

		p.collectCalls(source, child, callerName, result)
	}
}

func extractCalleeName(source []byte, node *sitter.Node) string {
	switch node.Type() {
	case "identifier":
		return nodeContent(source, node)
	case "member_expression":
		return nodeContent(source, node)
	case "super":
		return "super"
	default:
		return ""
	}
}

// extractTypeRelationEdges emits TAKES (param types) and RETURNS (return
// type) edges for every function/method node.
func (p *TypeScriptParser) extractTypeRelationEdges(source []byte, root *sitter.Node, result *ParseResult) {
	for _, node := range result.Nodes {
		if node.Kind != KindFunction && node.Kind != KindMethod {
			continue
		}
		for _, param := range node.Params {
			if param.Type == "" {
				continue
			}
			for _, t := range splitTypeIdentifiers(param.Type) {
				result.Edges = append(result.Edges, EdgeInfo{
					Source: node.QualifiedName,
					Target: t,
					Kind:   EdgeTakes,
					Line:   node.StartLine,
				})
			}
		}
		if node.ReturnType != "" {
			for _, t := range splitTypeIdentifiers(node.ReturnType) {
				result.Edges = append(result.Edges, EdgeInfo{
					Source: node.QualifiedName,
					Target: t,
					Kind:   EdgeReturns,
					Line:   node.StartLine,
				})
			}
		}
	}
}

// splitTypeIdentifiers extracts candidate type identifiers out of a raw type
// annotation string (handles generics, unions, and arrays), skipping
// built-ins.
func splitTypeIdentifiers(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var cur strings.Builder
	var names []string
	flush := func() {
		name := strings.TrimSpace(cur.String())
		cur.Reset()
		if name == "" {
			return
		}
		if !isBuiltinType(name) && isIdentifierLike(name) {
			names = append(names, name)
		}
	}
	for _, r := range raw {
		switch r {
		case '<', '>', '|', '&', '[', ']', ',', ' ', '(', ')':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func isIdentifierLike(s string) bool {
	for i, r := range s {
		if i == 0 && !(r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
		if !(r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return s != ""
}

// extractJSXIncludesEdges records INCLUDES edges from a component to each
// JSX element it renders whose tag name is capitalized (i.e. another
// component, not a host-intrinsic element like "div").
func (p *TypeScriptParser) extractJSXIncludesEdges(source []byte, root *sitter.Node, result *ParseResult) {
	for _, node := range result.Nodes {
		if node.Kind != KindFunction && node.Kind != KindMethod {
			continue
		}
		astNode := findDeclAtLine(root, node.StartLine-1)
		if astNode == nil {
			continue
		}
		body := findBody(astNode)
		if body == nil {
			continue
		}
		seen := make(map[string]bool)
		p.collectJSXIncludes(source, body, node.QualifiedName, seen, result)
	}
}

func (p *TypeScriptParser) collectJSXIncludes(source []byte, node *sitter.Node, ownerName string, seen map[string]bool, result *ParseResult) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "jsx_opening_element", "jsx_self_closing_element":
			nameNode := child.ChildByFieldName("name")
			if nameNode != nil {
				name := nodeContent(source, nameNode)
				if name != "" && name[0] >= 'A' && name[0] <= 'Z' && !seen[name] {
					seen[name] = true
					result.Edges = append(result.Edges, EdgeInfo{
						Source: ownerName,
						Target: name,
						Kind:   EdgeIncludes,
						Line:   int(child.StartPoint().Row) + 1,
					})
				}
			}
		}
		p.collectJSXIncludes(source, child, ownerName, seen, result)
	}
}

// extractReferenceEdges emits REFERENCES edges for identifiers used in a
// non-call, non-type position: passed as a callback argument, assigned to
// an object property, placed in an array literal, returned directly, or
// assigned via "=". These surface indirect data/control flow that CALLS and
// TAKES/RETURNS miss (a function passed around rather than invoked).
func (p *TypeScriptParser) extractReferenceEdges(source []byte, root *sitter.Node, result *ParseResult) {
	for _, node := range result.Nodes {
		if node.Kind != KindFunction && node.Kind != KindMethod {
			continue
		}
		astNode := findDeclAtLine(root, node.StartLine-1)
		if astNode == nil {
			continue
		}
		body := findBody(astNode)
		if body == nil {
			continue
		}
		p.collectReferences(source, body, node.QualifiedName, result)
	}
}

func (p *TypeScriptParser) collectReferences(source []byte, node *sitter.Node, ownerName string, result *ParseResult) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "arrow_function" || child.Type() == "function_expression" || child.Type() == "function_declaration" {
			continue
		}
		if child.Type() == "identifier" {
			if ctx, ok := referenceContext(child); ok {
				result.Edges = append(result.Edges, EdgeInfo{
					Source:     ownerName,
					Target:     nodeContent(source, child),
					Kind:       EdgeReferences,
					Line:       int(child.StartPoint().Row) + 1,
					RefContext: ctx,
				})
			}
		}
		p.collectReferences(source, child, ownerName, result)
	}
}

// referenceContext classifies a bare identifier node by its syntactic
// position, skipping positions already covered by CALLS/TAKES/RETURNS.
func referenceContext(id *sitter.Node) (string, bool) {
	parent := id.Parent()
	if parent == nil {
		return "", false
	}
	switch parent.Type() {
	case "arguments":
		grand := parent.Parent()
		if grand != nil && grand.Type() == "call_expression" && grand.ChildByFieldName("function") != id {
			return RefContextCallback, true
		}
	case "pair":
		if parent.ChildByFieldName("value") == id {
			return RefContextProperty, true
		}
	case "array":
		return RefContextArray, true
	case "return_statement":
		return RefContextReturn, true
	case "assignment_expression":
		if parent.ChildByFieldName("right") == id {
			return RefContextAssignment, true
		}
	}
	return "", false
}

// --- Helpers for edge extraction ---

func findChildByType(node *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == nodeType {
			return child
		}
	}
	return nil
}

func stripQuotes(s string) string {
	s = strings.TrimPrefix(s, "\"")
	s = strings.TrimSuffix(s, "\"")
	s = strings.TrimPrefix(s, "'")
	s = strings.TrimSuffix(s, "'")
	return s
}

// findDeclAtLine finds a declaration node at the given 0-indexed row.
func findDeclAtLine(root *sitter.Node, row int) *sitter.Node {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() == "export_statement" {
			result := findDeclAtLine(child, row)
			if result != nil {
				return result
			}
		}
		if int(child.StartPoint().Row) == row {
			if child.Type() == "lexical_declaration" {
				for j := 0; j < int(child.NamedChildCount()); j++ {
					decl := child.NamedChild(j)
					if decl.Type() == "variable_declarator" {
						return decl
					}
				}
			}
			return child
		}
		if child.Type() == "class_declaration" || child.Type() == "abstract_class_declaration" {
			body := child.ChildByFieldName("body")
			if body != nil {
				for j := 0; j < int(body.NamedChildCount()); j++ {
					method := body.NamedChild(j)
					if method.Type() == "method_definition" && int(method.StartPoint().Row) == row {
						return method
					}
				}
			}
		}
	}
	return nil
}

func findBody(node *sitter.Node) *sitter.Node {
	if node.Type() == "variable_declarator" {
		value := node.ChildByFieldName("value")
		if value != nil {
			body := value.ChildByFieldName("body")
			if body != nil {
				return body
			}
			return value
		}
		return nil
	}
	return node.ChildByFieldName("body")
}

func isBuiltinType(name string) bool {
	switch name {
	case "string", "number", "boolean", "void", "null", "undefined",
		"any", "never", "unknown", "object", "symbol", "bigint",
		"Array", "Promise", "Record", "Partial", "Readonly", "Pick", "Omit", "Map", "Set":
		return true
	}
	return false
}
