package forwarder

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/maxpert/sysfwd/cfg"
)

// DefaultPatternCacheSize bounds the number of compiled expressions kept across cycles
const DefaultPatternCacheSize = 256

// ErrEmptyExpression is returned for filters without an expression
var ErrEmptyExpression = errors.New("empty filter expression")

// Matcher is a compiled filter expression
type Matcher interface {
	MatchString(s string) bool
}

// globMatcher adapts a glob to Matcher. Globs match the whole value, unlike
// regular expressions which match anywhere.
type globMatcher struct {
	g glob.Glob
}

func (m globMatcher) MatchString(s string) bool {
	return m.g.Match(s)
}

// CompileExpression compiles a filter expression. A delimited expression
// "/body/flags" is compiled from body with flags; anything else is taken as
// the body itself, so "abc" and "/abc/" compile to the same pattern.
//
// Supported flags: i (case-insensitive), m (multi-line), s (dot matches
// newline), U (ungreedy), x (extended, whitespace and # comments ignored) and
// u (UTF-8, always on).
func CompileExpression(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, ErrEmptyExpression
	}

	body, flags, delimited := splitDelimited(expr)
	if !delimited {
		body = expr
	}

	var inline strings.Builder
	extended := false
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's', 'U':
			if !strings.ContainsRune(inline.String(), f) {
				inline.WriteRune(f)
			}
		case 'x':
			extended = true
		case 'u':
		default:
			return nil, fmt.Errorf("unknown modifier %q in expression %q", f, expr)
		}
	}

	if extended {
		body = stripExtended(body)
	}
	if inline.Len() > 0 {
		body = "(?" + inline.String() + ")" + body
	}

	re, err := regexp.Compile(body)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expr, err)
	}
	return re, nil
}

// splitDelimited splits "/body/flags". It reports false when expr does not
// start with a delimiter or has no closing one.
func splitDelimited(expr string) (body, flags string, ok bool) {
	if len(expr) < 2 || expr[0] != '/' {
		return "", "", false
	}
	end := strings.LastIndexByte(expr, '/')
	if end == 0 {
		return "", "", false
	}
	return expr[1:end], expr[end+1:], true
}

// stripExtended drops unescaped whitespace and # comments outside character classes
func stripExtended(body string) string {
	var b strings.Builder
	inClass := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\' && i+1 < len(body):
			b.WriteByte(c)
			b.WriteByte(body[i+1])
			i++
		case inClass:
			if c == ']' {
				inClass = false
			}
			b.WriteByte(c)
		case c == '[':
			inClass = true
			b.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
		case c == '#':
			for i < len(body) && body[i] != '\n' {
				i++
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// PatternCache keeps compiled expressions across cycles
type PatternCache struct {
	cache *lru.Cache[string, Matcher]
}

// NewPatternCache creates a cache holding up to size compiled expressions
func NewPatternCache(size int) (*PatternCache, error) {
	if size <= 0 {
		size = DefaultPatternCacheSize
	}
	c, err := lru.New[string, Matcher](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	return &PatternCache{cache: c}, nil
}

// Compile returns the cached matcher for expr, compiling it on a miss.
// Failed compilations are not cached.
func (pc *PatternCache) Compile(syntax, expr string) (Matcher, error) {
	if pc == nil {
		return compileMatcher(syntax, expr)
	}

	key := syntax + "\x00" + expr
	if m, ok := pc.cache.Get(key); ok {
		return m, nil
	}

	m, err := compileMatcher(syntax, expr)
	if err != nil {
		return nil, err
	}
	pc.cache.Add(key, m)
	return m, nil
}

// Len returns the number of cached expressions
func (pc *PatternCache) Len() int {
	return pc.cache.Len()
}

func compileMatcher(syntax, expr string) (Matcher, error) {
	switch syntax {
	case "", cfg.SyntaxRegex:
		re, err := CompileExpression(expr)
		if err != nil {
			return nil, err
		}
		return re, nil
	case cfg.SyntaxGlob:
		if expr == "" {
			return nil, ErrEmptyExpression
		}
		g, err := glob.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", expr, err)
		}
		return globMatcher{g: g}, nil
	}
	return nil, fmt.Errorf("unknown filter syntax %q", syntax)
}

// CompiledFilter is one exclude filter ready for evaluation
type CompiledFilter struct {
	Field      FilterField
	Expression string
	matcher    Matcher
}

// Evaluate reports whether any filter matches value. Filters are tried in list
// order and the first match wins; an empty list never matches.
func Evaluate(filters []CompiledFilter, value string) bool {
	for _, f := range filters {
		if f.matcher.MatchString(value) {
			return true
		}
	}
	return false
}

// FilterSet holds the compiled exclude filters grouped by field
type FilterSet struct {
	sender []CompiledFilter
	text   []CompiledFilter
}

// CompileFilters compiles the configured exclude filters, preserving their
// order within each field. The cache may be nil.
func CompileFilters(filters []cfg.ExcludeFilter, cache *PatternCache) (*FilterSet, error) {
	fs := &FilterSet{}
	for i, f := range filters {
		field, err := ParseFilterField(f.Field)
		if err != nil {
			return nil, &cfg.ConfigError{Field: fmt.Sprintf("exclude_filters[%d].field", i), Reason: err.Error()}
		}

		m, err := cache.Compile(f.Syntax, f.Expression)
		if err != nil {
			return nil, &cfg.ConfigError{Field: fmt.Sprintf("exclude_filters[%d].expression", i), Reason: err.Error()}
		}

		compiled := CompiledFilter{Field: field, Expression: f.Expression, matcher: m}
		switch field {
		case FieldSender:
			fs.sender = append(fs.sender, compiled)
		case FieldText:
			fs.text = append(fs.text, compiled)
		}
	}
	return fs, nil
}

// For returns the filters applying to field
func (fs *FilterSet) For(field FilterField) []CompiledFilter {
	if fs == nil {
		return nil
	}
	switch field {
	case FieldSender:
		return fs.sender
	case FieldText:
		return fs.text
	}
	return nil
}

// Suppressed reports whether a filter on field matches value
func (fs *FilterSet) Suppressed(field FilterField, value string) bool {
	return Evaluate(fs.For(field), value)
}

// Len returns the total number of filters
func (fs *FilterSet) Len() int {
	if fs == nil {
		return 0
	}
	return len(fs.sender) + len(fs.text)
}
