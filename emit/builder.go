package emit

import (
	"bufio"
	"fmt"
	"go/build/constraint"
	"strings"

	"golang.org/x/tools/imports"
)

// Header is the first line of every file pgsys writes.
const Header = "// Code generated by pgsys. DO NOT EDIT."

// IsGenerated reports whether data starts with [Header].
func IsGenerated(data []byte) bool {
	return strings.HasPrefix(string(data), Header)
}

// Builder is a wrapper around [strings.Builder] that simplifies
// building Go code.
//
// The zero value is safely ready to use.
type Builder struct {
	// Indent is the indentation level (indentation is tabs).
	Indent int

	b strings.Builder
}

// Write appends a raw string.
func (w *Builder) Write(s string) {
	w.b.WriteString(s)
}

// Append writes the given string line by line with correct indentation.
func (w *Builder) Append(s string) {
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		w.Linef("%v", sc.Text())
	}
}

// Linef writes a single line, prepended by the current indentation.
//
// Takes format and args like [fmt.Printf].
func (w *Builder) Linef(format string, args ...any) {
	for range w.Indent {
		w.b.WriteByte('\t')
	}
	fmt.Fprintf(&w.b, format, args...)
	w.b.WriteByte('\n')
}

// Preamble writes the generated-code header, the build constraint (if
// any) and the package clause.
func (w *Builder) Preamble(pkg string, build constraint.Expr) {
	w.Linef("%v", Header)
	w.Linef("")
	if build != nil {
		w.Linef("//go:build %v", build)
		w.Linef("")
	}
	w.Linef("package %v", pkg)
}

// String returns the current code without applying any formatting.
func (w *Builder) String() string {
	return w.b.String()
}

// Format formats the current code as Go source code.
func (w *Builder) Format(filename string) ([]byte, error) {
	return Format(filename, []byte(w.String()), false)
}

func (w *Builder) Reset() {
	w.Indent = 0
	w.b.Reset()
}

// Format formats src as the Go file filename. With fixImports, missing
// imports are added and unused ones removed; otherwise only the layout
// and import grouping change.
func Format(filename string, src []byte, fixImports bool) ([]byte, error) {
	return imports.Process(filename, src, &imports.Options{
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
		FormatOnly: !fixImports,
	})
}
