package artifact

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrInvalidRequirement is wrapped by every requirement parse error.
var ErrInvalidRequirement = errors.New("invalid version requirement")

type Op int

const (
	OpCaret Op = iota // ^1.2.3, or a bare 1.2.3
	OpTilde           // ~1.2.3
	OpExact           // =1.2.3
	OpGreater         // >1.2.3
	OpGreaterEq       // >=1.2.3
	OpLess            // <1.2.3
	OpLessEq          // <=1.2.3
	OpWildcard        // *, 1.*, 1.2.*
)

func (op Op) String() string {
	switch op {
	case OpCaret:
		return "^"
	case OpTilde:
		return "~"
	case OpExact:
		return "="
	case OpGreater:
		return ">"
	case OpGreaterEq:
		return ">="
	case OpLess:
		return "<"
	case OpLessEq:
		return "<="
	case OpWildcard:
		return "*"
	default:
		panic(fmt.Sprintf("invalid op: %d", int(op)))
	}
}

// Predicate is one comma-separated term of a [Requirement].
type Predicate struct {
	Op Op
	// Written numeric components; missing ones are -1.
	Major, Minor, Patch int
	Pre                 string

	// Half-open (or closed, see the flags) interval of "v"-prefixed
	// versions this predicate accepts. Empty bounds are unbounded.
	lo, hi         string
	loIncl, hiIncl bool
}

// Requirement is a conjunction of predicates, e.g. ">=1.2, <1.5".
// The zero value matches every version.
type Requirement struct {
	Preds []Predicate
	raw   string
}

// ParseRequirement parses a version requirement. A bare version is a
// compatible (caret) requirement; "=" pins exactly.
func ParseRequirement(s string) (Requirement, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Requirement{}, fmt.Errorf("%w: empty", ErrInvalidRequirement)
	}
	req := Requirement{raw: raw}
	for term := range strings.SplitSeq(raw, ",") {
		p, err := parsePredicate(strings.TrimSpace(term))
		if err != nil {
			return Requirement{}, fmt.Errorf("%w %q: %w", ErrInvalidRequirement, raw, err)
		}
		req.Preds = append(req.Preds, p)
	}
	return req, nil
}

// MustParseRequirement is like [ParseRequirement] but panics on error.
func MustParseRequirement(s string) Requirement {
	req, err := ParseRequirement(s)
	if err != nil {
		panic(err)
	}
	return req
}

func parsePredicate(s string) (Predicate, error) {
	var p Predicate
	switch {
	case s == "*":
		p.Op = OpWildcard
		p.Major, p.Minor, p.Patch = -1, -1, -1
		return p, nil
	case strings.HasPrefix(s, ">="):
		p.Op, s = OpGreaterEq, s[2:]
	case strings.HasPrefix(s, "<="):
		p.Op, s = OpLessEq, s[2:]
	case strings.HasPrefix(s, ">"):
		p.Op, s = OpGreater, s[1:]
	case strings.HasPrefix(s, "<"):
		p.Op, s = OpLess, s[1:]
	case strings.HasPrefix(s, "="):
		p.Op, s = OpExact, s[1:]
	case strings.HasPrefix(s, "^"):
		p.Op, s = OpCaret, s[1:]
	case strings.HasPrefix(s, "~"):
		p.Op, s = OpTilde, s[1:]
	default:
		p.Op = OpCaret
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return p, errors.New("missing version")
	}

	s, _, _ = strings.Cut(s, "+")
	core, pre, hasPre := strings.Cut(s, "-")
	nums := strings.Split(core, ".")
	if len(nums) > 3 {
		return p, fmt.Errorf("too many version components in %q", s)
	}
	comps := [3]int{-1, -1, -1}
	for i, n := range nums {
		if n == "*" || n == "x" || n == "X" {
			if p.Op != OpCaret || i == 0 || i != len(nums)-1 || hasPre {
				return p, fmt.Errorf("unexpected wildcard in %q", s)
			}
			p.Op = OpWildcard
			break
		}
		v, err := strconv.Atoi(n)
		if err != nil || v < 0 || (len(n) > 1 && n[0] == '0') {
			return p, fmt.Errorf("invalid version component %q", n)
		}
		comps[i] = v
	}
	p.Major, p.Minor, p.Patch = comps[0], comps[1], comps[2]
	if hasPre {
		if p.Patch < 0 {
			return p, fmt.Errorf("pre-release %q requires a full version", pre)
		}
		p.Pre = pre
		if !semver.IsValid(p.floor()) {
			return p, fmt.Errorf("invalid pre-release %q", pre)
		}
	}
	p.bounds()
	return p, nil
}

func ver(major, minor, patch int) string {
	return fmt.Sprintf("v%d.%d.%d", major, minor, patch)
}

func zero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// floor is the smallest version matching the written components.
func (p *Predicate) floor() string {
	v := ver(zero(p.Major), zero(p.Minor), zero(p.Patch))
	if p.Pre != "" {
		v += "-" + p.Pre
	}
	return v
}

// next bumps the last written component.
func (p *Predicate) next() string {
	switch {
	case p.Minor < 0:
		return ver(p.Major+1, 0, 0)
	case p.Patch < 0:
		return ver(p.Major, p.Minor+1, 0)
	default:
		return ver(p.Major, p.Minor, p.Patch+1)
	}
}

func (p *Predicate) bounds() {
	full := p.Patch >= 0
	switch p.Op {
	case OpWildcard:
		if p.Major >= 0 {
			p.lo, p.loIncl = p.floor(), true
			p.hi = p.next()
		}
	case OpExact:
		if full {
			p.lo, p.loIncl = p.floor(), true
			p.hi, p.hiIncl = p.floor(), true
		} else {
			p.lo, p.loIncl = p.floor(), true
			p.hi = p.next()
		}
	case OpCaret:
		p.lo, p.loIncl = p.floor(), true
		switch {
		case p.Major > 0 || p.Minor < 0:
			p.hi = ver(p.Major+1, 0, 0)
		case p.Minor > 0 || p.Patch < 0:
			p.hi = ver(0, p.Minor+1, 0)
		default:
			p.hi = ver(0, 0, p.Patch+1)
		}
	case OpTilde:
		p.lo, p.loIncl = p.floor(), true
		if p.Minor < 0 {
			p.hi = ver(p.Major+1, 0, 0)
		} else {
			p.hi = ver(p.Major, p.Minor+1, 0)
		}
	case OpGreater:
		if full {
			p.lo = p.floor()
		} else {
			p.lo, p.loIncl = p.next(), true
		}
	case OpGreaterEq:
		p.lo, p.loIncl = p.floor(), true
	case OpLess:
		p.hi = p.floor()
	case OpLessEq:
		if full {
			p.hi, p.hiIncl = p.floor(), true
		} else {
			p.hi = p.next()
		}
	}
}

func (p *Predicate) matches(sv string) bool {
	if p.lo != "" {
		c := semver.Compare(sv, p.lo)
		if c < 0 || (c == 0 && !p.loIncl) {
			return false
		}
	}
	if p.hi != "" {
		c := semver.Compare(sv, p.hi)
		if c > 0 || (c == 0 && !p.hiIncl) {
			return false
		}
	}
	return true
}

func (p Predicate) String() string {
	if p.Op == OpWildcard {
		if p.Major < 0 {
			return "*"
		}
		if p.Minor < 0 {
			return fmt.Sprintf("%d.*", p.Major)
		}
		return fmt.Sprintf("%d.%d.*", p.Major, p.Minor)
	}
	var b strings.Builder
	if p.Op != OpCaret {
		b.WriteString(p.Op.String())
	}
	b.WriteString(strconv.Itoa(p.Major))
	if p.Minor >= 0 {
		b.WriteString("." + strconv.Itoa(p.Minor))
	}
	if p.Patch >= 0 {
		b.WriteString("." + strconv.Itoa(p.Patch))
	}
	if p.Pre != "" {
		b.WriteString("-" + p.Pre)
	}
	return b.String()
}

// Matches reports whether version (without "v" prefix) satisfies every
// predicate. A pre-release version only matches if some predicate names a
// pre-release of the same major.minor.patch.
func (r Requirement) Matches(version string) bool {
	sv := "v" + version
	if !semver.IsValid(sv) {
		return false
	}
	if pre := semver.Prerelease(sv); pre != "" {
		core := strings.TrimSuffix(semver.Canonical(sv), pre)
		allowed := false
		for _, p := range r.Preds {
			if p.Pre != "" && ver(p.Major, p.Minor, p.Patch) == core {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	for i := range r.Preds {
		if !r.Preds[i].matches(sv) {
			return false
		}
	}
	return true
}

// Exact returns the pinned version if r is a single "=" predicate on a
// full version.
func (r Requirement) Exact() (version string, ok bool) {
	if len(r.Preds) != 1 {
		return "", false
	}
	p := r.Preds[0]
	if p.Op != OpExact || p.Patch < 0 {
		return "", false
	}
	return strings.TrimPrefix(p.floor(), "v"), true
}

func (r Requirement) String() string {
	if r.raw != "" {
		return r.raw
	}
	if len(r.Preds) == 0 {
		return "*"
	}
	parts := make([]string, len(r.Preds))
	for i, p := range r.Preds {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}

func (r Requirement) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Requirement) UnmarshalText(text []byte) error {
	req, err := ParseRequirement(string(text))
	if err != nil {
		return err
	}
	*r = req
	return nil
}

// ExactRequirement returns the requirement pinning exactly version.
func ExactRequirement(version string) Requirement {
	return MustParseRequirement("=" + version)
}
