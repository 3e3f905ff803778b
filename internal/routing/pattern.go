package routing

import (
	"fmt"
	"strings"

	"github.com/conneroisu/switchyard/internal/web"
)

type segment struct {
	literal string
	name    string
	isVar   bool
}

// Pattern is a parsed route or scope pattern: literal segments, {name}
// variables and an optional trailing * that matches any remainder.
type Pattern struct {
	raw      string
	segments []segment
	wildcard bool
	literals int
}

// ParsePattern parses p.
func ParsePattern(p string) (*Pattern, error) {
	if !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("pattern %q must start with /", p)
	}
	pattern := &Pattern{raw: web.CleanPath(p)}

	parts := split(pattern.raw)
	seen := make(map[string]bool)
	for i, part := range parts {
		switch {
		case part == "*":
			if i != len(parts)-1 {
				return nil, fmt.Errorf("pattern %q: * must be the last segment", p)
			}
			pattern.wildcard = true
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
			name := part[1 : len(part)-1]
			if name == "" || strings.ContainsAny(name, "{}*") {
				return nil, fmt.Errorf("pattern %q: invalid variable %q", p, part)
			}
			if seen[name] {
				return nil, fmt.Errorf("pattern %q: variable %q repeated", p, name)
			}
			seen[name] = true
			pattern.segments = append(pattern.segments, segment{name: name, isVar: true})
		case strings.ContainsAny(part, "{}*"):
			return nil, fmt.Errorf("pattern %q: malformed segment %q", p, part)
		default:
			pattern.segments = append(pattern.segments, segment{literal: part})
			pattern.literals++
		}
	}
	return pattern, nil
}

// MustParsePattern is like ParsePattern but panics on error.
func MustParsePattern(p string) *Pattern {
	pattern, err := ParsePattern(p)
	if err != nil {
		panic(err)
	}
	return pattern
}

func split(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// String returns the cleaned pattern text.
func (p *Pattern) String() string { return p.raw }

// IsLiteral reports whether the pattern has neither variables nor wildcard.
func (p *Pattern) IsLiteral() bool {
	return !p.wildcard && p.literals == len(p.segments)
}

// Key returns the pattern with variable names erased, so that /a/{x} and
// /a/{y} compare equal.
func (p *Pattern) Key() string {
	var b strings.Builder
	for _, s := range p.segments {
		b.WriteByte('/')
		if s.isVar {
			b.WriteString("{}")
		} else {
			b.WriteString(s.literal)
		}
	}
	if p.wildcard {
		b.WriteString("/*")
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// Match reports whether path matches, returning the captured variables.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	parts := split(web.CleanPath(path))
	if len(parts) < len(p.segments) || (!p.wildcard && len(parts) != len(p.segments)) {
		return nil, false
	}

	var vars map[string]string
	for i, s := range p.segments {
		if s.isVar {
			if vars == nil {
				vars = make(map[string]string)
			}
			vars[s.name] = parts[i]
			continue
		}
		if s.literal != parts[i] {
			return nil, false
		}
	}
	return vars, true
}

// moreSpecific orders patterns: more literal segments first, then more
// segments, then patterns without a wildcard.
func moreSpecific(a, b *Pattern) bool {
	if a.literals != b.literals {
		return a.literals > b.literals
	}
	if len(a.segments) != len(b.segments) {
		return len(a.segments) > len(b.segments)
	}
	return !a.wildcard && b.wildcard
}
