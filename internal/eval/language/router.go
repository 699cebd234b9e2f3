// Package language maps submission languages onto evaluation backends.
// The two routing sets are static and disjoint; a language never routes
// to more than one backend kind.
package language

import (
	"sort"
	"strings"

	"evalhub/internal/eval/model"
)

// routes is the authoritative language table. Software languages go to the
// synchronous backend, hardware description languages to the async-poll
// backend.
var routes = map[string]model.BackendKind{
	"c":          model.BackendSync,
	"cpp":        model.BackendSync,
	"python":     model.BackendSync,
	"java":       model.BackendSync,
	"javascript": model.BackendSync,

	"verilog":       model.BackendAsyncPoll,
	"vhdl":          model.BackendAsyncPoll,
	"systemverilog": model.BackendAsyncPoll,
}

// aliases fold common spellings onto canonical language names.
var aliases = map[string]string{
	"c++":  "cpp",
	"py":   "python",
	"js":   "javascript",
	"node": "javascript",
	"sv":   "systemverilog",
}

// Normalize lowercases a language identifier and folds known aliases onto
// the canonical name. It does not check membership.
func Normalize(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if canonical, ok := aliases[l]; ok {
		return canonical
	}
	return l
}

// Resolve returns the backend kind for a language. The second return is
// false when the language is not supported.
func Resolve(lang string) (model.BackendKind, bool) {
	kind, ok := routes[Normalize(lang)]
	return kind, ok
}

// Supported returns the canonical language names in sorted order.
func Supported() []string {
	out := make([]string, 0, len(routes))
	for l := range routes {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
