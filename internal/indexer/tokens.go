package indexer

import (
	"strings"
	"unicode"
)

// Tokenize splits a camelCase/PascalCase identifier into its constituent
// words and appends the original identifier intact, so a search for either
// "validate" or "validateCart" retrieves a node named validateCart.
func Tokenize(identifier string) []string {
	if identifier == "" {
		return nil
	}

	words := splitCamelCase(identifier)
	tokens := make([]string, 0, len(words)+1)
	seen := make(map[string]bool, len(words)+1)

	add := func(w string) {
		w = strings.ToLower(w)
		if w == "" || seen[w] {
			return
		}
		seen[w] = true
		tokens = append(tokens, w)
	}

	for _, w := range words {
		add(w)
	}
	add(identifier)

	return tokens
}

func splitCamelCase(s string) []string {
	var words []string
	var cur strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if r == '_' || r == '-' || r == '.' {
			if cur.Len() > 0 {
				words = append(words, cur.String())
				cur.Reset()
			}
			continue
		}

		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
				if cur.Len() > 0 {
					words = append(words, cur.String())
					cur.Reset()
				}
			}
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		words = append(words, cur.String())
	}
	return words
}

// DocumentText builds the preprocessed text persisted into each node's
// document_text column for BM25-style full-text ranking: symbol tokens (from
// both the short name and the fully qualified name) followed by the docstring
// and source snippet. Computed once at write time (graph_builder.go's node
// upsert) rather than per query; search/index.go's BM25 query runs
// to_tsvector over this text, so the vector it builds contains the split
// camelCase words the query expects to find.
func DocumentText(name, qualifiedName, docstring, sourceCode string) string {
	var b strings.Builder

	for _, part := range []string{name, qualifiedName} {
		for _, tok := range Tokenize(part) {
			b.WriteString(tok)
			b.WriteByte(' ')
		}
	}
	if docstring != "" {
		b.WriteString(docstring)
		b.WriteByte(' ')
	}
	if sourceCode != "" {
		b.WriteString(sourceCode)
	}

	return b.String()
}
