package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/pelletier/go-toml/v2"

	"github.com/pgbind/pgsys/artifact"
	"github.com/pgbind/pgsys/textutils"
)

type Error struct {
	filePath string
	err      error  // short, single-line error
	str      string // full, multi-line error string, or err string, if none
}

// Error returns a short error message.
func (e *Error) Error() string {
	return e.filePath + ": " + e.err.Error()
}

// String returns the full multi-line error string.
func (e *Error) String() string {
	if e.str != "" {
		return "Error in file " + strconv.Quote(e.filePath) + ":\n" + e.str
	} else {
		return e.Error()
	}
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) FilePath() string {
	return e.filePath
}

func wrapError(path string, err error) error {
	if mErr := (*Error)(nil); errors.As(err, &mErr) {
		return err
	}
	if tErr := (&toml.DecodeError{}); errors.As(err, &tErr) {
		return &Error{filePath: path, err: err, str: tErr.String()}
	} else if tErr := (&toml.StrictMissingError{}); errors.As(err, &tErr) {
		return &Error{filePath: path, err: err, str: tErr.String()}
	}
	return &Error{filePath: path, err: err}
}

type ImportCycleError struct {
	Cycle []string
}

func (e *ImportCycleError) Error() string {
	return "import cycle:\n" + textutils.IndentString(strings.Join(e.Cycle, "\n-> "), "  ", 1)
}

// file is the on-disk shape of a manifest. Dependency values are either a
// requirement string or a table, so they are decoded in a second step.
type file struct {
	Imports           []string            `toml:"imports,omitempty"`
	Package           Package             `toml:"package"`
	Versions          Versions            `toml:"versions,omitempty"`
	Features          map[string][]string `toml:"features,omitempty"`
	Docs              *Docs               `toml:"docs,omitempty"`
	Dependencies      map[string]any      `toml:"dependencies,omitempty"`
	BuildDependencies map[string]any      `toml:"build-dependencies,omitempty"`
	Generate          Generate            `toml:"generate,omitempty"`
}

// Load reads the manifest at path, resolving its imports relative to the
// importing file. Values of the importing file take precedence; slices are
// appended.
func Load(path string) (*Manifest, error) {
	return load(path, nil)
}

func load(path string, stack []string) (_ *Manifest, err error) {
	defer func() {
		if err != nil {
			err = wrapError(path, err)
		}
	}()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if i := slices.Index(stack, abs); i != -1 {
		return nil, &ImportCycleError{Cycle: append(slices.Clone(stack[i:]), abs)}
	}
	stack = append(stack, abs)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(path, data)
	if err != nil {
		return nil, err
	}

	var imported []*Manifest // collected first so their imports don't leak into ours
	for _, imp := range m.Imports {
		if !filepath.IsAbs(imp) {
			imp = filepath.Join(filepath.Dir(path), imp)
		}
		im, err := load(imp, stack)
		if err != nil {
			return nil, err
		}
		im.Imports = nil
		imported = append(imported, im)
	}
	for _, im := range imported {
		if err := mergo.Merge(m, im, mergo.WithAppendSlice); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ParseFile reads a single manifest file without following its imports,
// as needed to rewrite it in place.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapError(path, err)
	}
	return Parse(path, data)
}

// Parse decodes a single manifest without following imports. name is used
// in error messages and as the manifest's Path.
func Parse(name string, data []byte) (_ *Manifest, err error) {
	defer func() {
		if err != nil {
			err = wrapError(name, err)
		}
	}()

	var f file
	err = toml.NewDecoder(bytes.NewReader(data)).
		DisallowUnknownFields().
		Decode(&f)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Imports:  f.Imports,
		Package:  f.Package,
		Versions: f.Versions,
		Features: f.Features,
		Docs:     f.Docs,
		Generate: f.Generate,
		Path:     name,
	}
	m.Dependencies, err = decodeDeps(f.Dependencies, PhaseRuntime)
	if err != nil {
		return nil, fmt.Errorf("dependencies: %w", err)
	}
	m.BuildDependencies, err = decodeDeps(f.BuildDependencies, PhaseBuild)
	if err != nil {
		return nil, fmt.Errorf("build-dependencies: %w", err)
	}
	return m, nil
}

func decodeDeps(raw map[string]any, phase Phase) (map[string]*Dependency, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	res := make(map[string]*Dependency, len(raw))
	for _, name := range slices.Sorted(maps.Keys(raw)) {
		d := &Dependency{}
		switch v := raw[name].(type) {
		case string:
			d.Version = v
		case map[string]any:
			b, err := toml.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("%v: %w", name, err)
			}
			err = toml.NewDecoder(bytes.NewReader(b)).
				DisallowUnknownFields().
				Decode(d)
			if err != nil {
				return nil, fmt.Errorf("%v: %w", name, err)
			}
		default:
			return nil, fmt.Errorf("%v: expected version string or table, got %T", name, v)
		}
		d.Name = name
		d.Phase = phase
		if d.Version != "" {
			req, err := artifact.ParseRequirement(d.Version)
			if err != nil {
				return nil, fmt.Errorf("%v: %w", name, err)
			}
			d.Req = req
		}
		res[name] = d
	}
	return res, nil
}

func encodeDeps(deps map[string]*Dependency) map[string]any {
	if len(deps) == 0 {
		return nil
	}
	res := make(map[string]any, len(deps))
	for name, d := range deps {
		if d.Path == "" && len(d.Features) == 0 && d.DefaultFeatures == nil {
			res[name] = d.Version
		} else {
			res[name] = d
		}
	}
	return res
}

// Marshal encodes the manifest (without following imports) back to TOML.
func (m *Manifest) Marshal() ([]byte, error) {
	f := file{
		Imports:           m.Imports,
		Package:           m.Package,
		Versions:          m.Versions,
		Features:          m.Features,
		Docs:              m.Docs,
		Dependencies:      encodeDeps(m.Dependencies),
		BuildDependencies: encodeDeps(m.BuildDependencies),
		Generate:          m.Generate,
	}
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf).SetIndentTables(true)
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the manifest to path, or to m.Path if path is empty.
func (m *Manifest) Save(path string) error {
	if path == "" {
		path = m.Path
	}
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0666)
}
