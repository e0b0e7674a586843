package engine

import (
	"strings"
	"unicode"
)

// Prefixes of kebab-case host method names that map to WIT resource functions.
const (
	prefixConstructor  = "constructor-"
	prefixResourceDrop = "resource-drop-"
	prefixMethod       = "method-"
	prefixStatic       = "static-"
)

// Multi-word resources, matched before the first-dash split.
var knownResources = []string{
	"outgoing-response",
	"outgoing-request",
	"outgoing-body",
	"incoming-request",
	"incoming-response",
	"incoming-body",
	"future-incoming-response",
	"future-trailers",
	"response-outparam",
	"request-options",
	"input-stream",
	"output-stream",
	"directory-entry-stream",
}

// kebabToWitName converts a kebab-case host name to WIT syntax:
//
//	method-pollable-ready      -> [method]pollable.ready
//	static-descriptor-open-at  -> [static]descriptor.open-at
//	constructor-fields         -> [constructor]fields
//	resource-drop-fields       -> [resource-drop]fields
//	poll                       -> poll
func kebabToWitName(kebab string) string {
	switch {
	case len(kebab) > len(prefixConstructor) && strings.HasPrefix(kebab, prefixConstructor):
		return "[constructor]" + kebab[len(prefixConstructor):]
	case len(kebab) > len(prefixResourceDrop) && strings.HasPrefix(kebab, prefixResourceDrop):
		return "[resource-drop]" + kebab[len(prefixResourceDrop):]
	case len(kebab) > len(prefixMethod) && strings.HasPrefix(kebab, prefixMethod):
		return "[method]" + splitResourceFunction(kebab[len(prefixMethod):])
	case len(kebab) > len(prefixStatic) && strings.HasPrefix(kebab, prefixStatic):
		return "[static]" + splitResourceFunction(kebab[len(prefixStatic):])
	}
	return kebab
}

// splitResourceFunction turns "outgoing-response-set-status-code" into
// "outgoing-response.set-status-code".
func splitResourceFunction(rest string) string {
	for _, res := range knownResources {
		if len(rest) > len(res)+1 && strings.HasPrefix(rest, res) && rest[len(res)] == '-' {
			return res + "." + rest[len(res)+1:]
		}
	}
	if idx := strings.IndexByte(rest, '-'); idx > 0 {
		return rest[:idx] + "." + rest[idx+1:]
	}
	return rest
}

// toKebabCase converts PascalCase to kebab-case.
// Acronyms stay one word: SetHTTPStatus -> set-http-status
func toKebabCase(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}

		end := i + 1
		for end < len(runes) && unicode.IsUpper(runes[end]) {
			end++
		}
		// Last uppercase before lowercase starts the next word.
		if end > i+1 && end < len(runes) && unicode.IsLower(runes[end]) {
			end--
		}

		if i > 0 {
			b.WriteByte('-')
		}
		for j := i; j < end; j++ {
			b.WriteRune(unicode.ToLower(runes[j]))
		}
		i = end - 1
	}
	return b.String()
}

// splitLowerName splits "wasi:io/streams@0.2.0#read" into namespace and
// function.
func splitLowerName(name string) (namespace, funcName string) {
	idx := strings.LastIndexByte(name, '#')
	if idx == -1 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}

func isResourceDropImport(name string) bool {
	return strings.HasPrefix(name, "[resource-drop]") && len(name) > len("[resource-drop]")
}
