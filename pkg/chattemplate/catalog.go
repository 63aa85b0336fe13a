package chattemplate

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed catalog/*.jinja
var catalogFS embed.FS

const catalogExt = ".jinja"

// Builtin returns the source of a bundled family template, e.g.
// "hermes-2-pro" or "llama-3.1-tools".
func Builtin(name string) (string, bool) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	data, err := catalogFS.ReadFile("catalog/" + name + catalogExt)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// BuiltinNames lists the bundled family templates in sorted order.
func BuiltinNames() []string {
	entries, err := fs.ReadDir(catalogFS, "catalog")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), catalogExt))
	}
	sort.Strings(names)
	return names
}

// isBuiltinSource reports whether src is one of the bundled family templates.
// Those render through their family layout under templates/.
func isBuiltinSource(src string) bool {
	for _, name := range BuiltinNames() {
		if b, ok := Builtin(name); ok && b == src {
			return true
		}
	}
	return false
}
