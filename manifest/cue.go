package manifest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/pelletier/go-toml/v2"
)

//go:embed schema.cue
var schemaSource []byte

// SchemaError lists every schema violation of one manifest.
type SchemaError struct {
	FilePath string
	// Violations in "json.path: message" form.
	Violations []string
}

func (e *SchemaError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("%s: %s", e.FilePath, e.Violations[0])
	}
	return fmt.Sprintf("%s: schema validation failed:\n  %s", e.FilePath, strings.Join(e.Violations, "\n  "))
}

// CheckSchema validates the manifest's TOML form against the embedded CUE
// schema.
func (m *Manifest) CheckSchema() error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return err
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	filename := m.Path
	if filename == "" {
		filename = "<input>"
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if schema.Err() != nil {
		return fmt.Errorf("internal error: compile schema: %w", schema.Err())
	}
	root := schema.LookupPath(cue.ParsePath("#Manifest"))
	if root.Err() != nil {
		return fmt.Errorf("internal error: schema definition #Manifest: %w", root.Err())
	}
	value := ctx.CompileBytes(js, cue.Filename(filename))
	if value.Err() != nil {
		return schemaError(value.Err(), filename)
	}
	if err := root.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return schemaError(err, filename)
	}
	return nil
}

func schemaError(err error, filePath string) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return fmt.Errorf("%s: %w", filePath, err)
	}
	res := &SchemaError{FilePath: filePath}
	for _, e := range errs {
		path := formatPath(cueerrors.Path(e))
		msg := e.Error()
		if path != "" {
			msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, path), ":"))
			msg = path + ": " + msg
		}
		res.Violations = append(res.Violations, msg)
	}
	return res
}

// formatPath turns ["generate", "unit", "0", "output"] into
// "generate.unit[0].output".
func formatPath(path []string) string {
	var b strings.Builder
	for i, part := range path {
		if i > 0 && strings.Trim(part, "0123456789") == "" {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}
