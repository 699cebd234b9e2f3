package language_test

import (
	"testing"

	"evalhub/internal/eval/language"
	"evalhub/internal/eval/model"
)

func TestResolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		lang string
		want model.BackendKind
		ok   bool
	}{
		{name: "c", lang: "c", want: model.BackendSync, ok: true},
		{name: "cpp", lang: "cpp", want: model.BackendSync, ok: true},
		{name: "python", lang: "python", want: model.BackendSync, ok: true},
		{name: "java", lang: "java", want: model.BackendSync, ok: true},
		{name: "javascript", lang: "javascript", want: model.BackendSync, ok: true},
		{name: "verilog", lang: "verilog", want: model.BackendAsyncPoll, ok: true},
		{name: "vhdl", lang: "vhdl", want: model.BackendAsyncPoll, ok: true},
		{name: "systemverilog", lang: "systemverilog", want: model.BackendAsyncPoll, ok: true},
		{name: "uppercase", lang: "Python", want: model.BackendSync, ok: true},
		{name: "padded", lang: "  vhdl  ", want: model.BackendAsyncPoll, ok: true},
		{name: "alias cpp", lang: "c++", want: model.BackendSync, ok: true},
		{name: "alias sv", lang: "sv", want: model.BackendAsyncPoll, ok: true},
		{name: "unsupported", lang: "cobol", ok: false},
		{name: "empty", lang: "", ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := language.Resolve(tt.lang)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSupportedSetsAreDisjoint(t *testing.T) {
	t.Parallel()
	seen := map[string]model.BackendKind{}
	for _, lang := range language.Supported() {
		kind, ok := language.Resolve(lang)
		if !ok {
			t.Fatalf("supported language %q does not resolve", lang)
		}
		if prev, dup := seen[lang]; dup && prev != kind {
			t.Fatalf("language %q routes to both %s and %s", lang, prev, kind)
		}
		seen[lang] = kind
	}
	if len(seen) != 8 {
		t.Fatalf("expected 8 supported languages, got %d", len(seen))
	}
}
