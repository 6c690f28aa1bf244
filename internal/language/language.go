// Package language defines the programming-language catalogue and the per-user
// preference sets that drive affinity scoring. Languages are a fixed
// enumeration with stable numeric ids so that iteration, tie-breaking and
// persistence never depend on map order.
package language

import (
	"fmt"
	"strings"
)

// Language identifies a programming language. The numeric value is stable and
// must never be renumbered: it orders languages for deterministic tie-breaks.
type Language uint8

const (
	C Language = iota + 1
	CPP
	CSharp
	Clojure
	Dart
	Elixir
	Erlang
	FSharp
	Go
	Haskell
	Java
	JavaScript
	Julia
	Kotlin
	Lua
	OCaml
	PHP
	Python
	R
	Ruby
	Rust
	Scala
	Swift
	TypeScript
	Zig
)

// slugs maps each language to its wire name. Index 0 is unused.
var slugs = [...]string{
	C:          "c",
	CPP:        "cpp",
	CSharp:     "csharp",
	Clojure:    "clojure",
	Dart:       "dart",
	Elixir:     "elixir",
	Erlang:     "erlang",
	FSharp:     "fsharp",
	Go:         "go",
	Haskell:    "haskell",
	Java:       "java",
	JavaScript: "javascript",
	Julia:      "julia",
	Kotlin:     "kotlin",
	Lua:        "lua",
	OCaml:      "ocaml",
	PHP:        "php",
	Python:     "python",
	R:          "r",
	Ruby:       "ruby",
	Rust:       "rust",
	Scala:      "scala",
	Swift:      "swift",
	TypeScript: "typescript",
	Zig:        "zig",
}

var bySlug = func() map[string]Language {
	m := make(map[string]Language, len(slugs))
	for i, s := range slugs {
		if s != "" {
			m[s] = Language(i)
		}
	}
	return m
}()

// All returns every known language in ascending id order.
func All() []Language {
	out := make([]Language, 0, len(slugs)-1)
	for i := 1; i < len(slugs); i++ {
		out = append(out, Language(i))
	}
	return out
}

// Parse resolves a wire slug (case-insensitive) to a Language.
func Parse(s string) (Language, error) {
	l, ok := bySlug[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("language: unknown language %q", s)
	}
	return l, nil
}

// Valid reports whether l is part of the catalogue.
func (l Language) Valid() bool {
	return l > 0 && int(l) < len(slugs)
}

// String returns the wire slug.
func (l Language) String() string {
	if !l.Valid() {
		return fmt.Sprintf("language(%d)", uint8(l))
	}
	return slugs[l]
}

// MarshalText encodes the language as its slug, which also makes Language
// usable as a JSON object key.
func (l Language) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("language: invalid id %d", uint8(l))
	}
	return []byte(slugs[l]), nil
}

// UnmarshalText decodes a slug.
func (l *Language) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
