package manifest

import (
	"go/build/constraint"
	"slices"
)

var (
	KnownGOOS   = []string{"aix", "android", "darwin", "dragonfly", "freebsd", "hurd", "illumos", "ios", "js", "linux", "nacl", "netbsd", "openbsd", "plan9", "solaris", "wasip1", "windows", "zos"}
	KnownGOARCH = []string{"386", "amd64", "amd64p32", "arm", "arm64", "arm64be", "armbe", "loong64", "mips", "mips64", "mips64le", "mips64p32", "mips64p32le", "mipsle", "ppc", "ppc64", "ppc64le", "riscv", "riscv64", "s390", "s390x", "sparc", "sparc64", "wasm"}
	UnixOSes    = []string{"aix", "android", "darwin", "dragonfly", "freebsd", "hurd", "illumos", "ios", "linux", "netbsd", "openbsd", "solaris"}
)

// Constraint is a build constraint expression ("pg13 || pg14") selecting
// conditionally compiled regions.
type Constraint struct {
	constraint.Expr
}

// ParseConstraint parses a bare expression or a full "//go:build" line.
func ParseConstraint(s string) (*Constraint, error) {
	c := &Constraint{}
	if err := c.UnmarshalText([]byte(s)); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Constraint) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Constraint) UnmarshalText(text []byte) error {
	s := string(text)
	if !constraint.IsGoBuild(s) {
		s = "//go:build " + s
	}
	expr, err := constraint.Parse(s)
	if err != nil {
		return err
	}
	c.Expr = expr
	return nil
}

// Tags returns all tags referenced anywhere in the expression.
func (c *Constraint) Tags() []string {
	if c == nil || c.Expr == nil {
		return nil
	}
	return constraintTags(c.Expr)
}

func constraintTags(expr constraint.Expr) (tags []string) {
	var visit func(e constraint.Expr)
	visit = func(e constraint.Expr) {
		switch e := e.(type) {
		case *constraint.AndExpr:
			visit(e.X)
			visit(e.Y)
		case *constraint.OrExpr:
			visit(e.X)
			visit(e.Y)
		case *constraint.NotExpr:
			visit(e.X)
		case *constraint.TagExpr:
			if !slices.Contains(tags, e.Tag) {
				tags = append(tags, e.Tag)
			}
		}
	}
	visit(expr)
	return
}

// isPlatformTag reports whether tag is decided by the compilation target
// rather than by a feature.
func isPlatformTag(tag string) bool {
	return tag == "unix" || tag == "cgo" ||
		slices.Contains(KnownGOOS, tag) ||
		slices.Contains(KnownGOARCH, tag)
}
