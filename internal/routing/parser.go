package routing

import (
	"fmt"
	"strings"

	"github.com/devrev/promptsource/internal/model"
	"gopkg.in/yaml.v3"
)

const (
	commentMarker        = "#"
	frontMatterDelimiter = "---"
)

// Pattern is one parsed routing line
type Pattern struct {
	Template       string
	Line           int
	Placeholders   []model.Dimension
	Depth          int
	StaticSegments int
	Priority       int

	parts []part
}

type part struct {
	literal     string
	placeholder model.Dimension
}

func (p part) isPlaceholder() bool { return p.placeholder != "" }

// Document is a parsed routing document; Patterns are sorted by priority.
type Document struct {
	Version     int
	DefaultPath *Pattern
	Patterns    []Pattern
}

// LineError describes a routing line that was skipped
type LineError struct {
	Line   int
	Text   string
	Reason string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %s", e.Line, e.Text, e.Reason)
}

type frontMatter struct {
	Version int    `yaml:"version"`
	Default string `yaml:"default"`
}

// Parse reads a routing document. Malformed lines are skipped and reported,
// never fatal. The returned patterns are stably sorted by priority.
func Parse(document string) (*Document, []*LineError) {
	lines := strings.Split(strings.ReplaceAll(document, "\r\n", "\n"), "\n")
	doc := &Document{}
	var problems []*LineError

	start := 0
	if fm, next, err := readFrontMatter(lines); err != nil {
		problems = append(problems, err)
		start = next
	} else if fm != nil {
		start = next
		doc.Version = fm.Version
		if fm.Default != "" {
			p, err := parsePattern(fm.Default, 0)
			if err != nil {
				err.Reason = "front-matter default: " + err.Reason
				problems = append(problems, err)
			} else {
				doc.DefaultPath = p
			}
		}
	}

	for i := start; i < len(lines); i++ {
		text := stripComment(lines[i])
		if text == "" {
			continue
		}
		p, err := parsePattern(text, i+1)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		doc.Patterns = append(doc.Patterns, *p)
	}

	sortPatterns(doc.Patterns)
	return doc, problems
}

// readFrontMatter consumes a leading YAML block delimited by "---" lines.
// It returns the index of the first line after the block.
func readFrontMatter(lines []string) (*frontMatter, int, *LineError) {
	first := -1
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			first = i
			break
		}
	}
	if first < 0 || strings.TrimSpace(lines[first]) != frontMatterDelimiter {
		return nil, 0, nil
	}

	for end := first + 1; end < len(lines); end++ {
		if strings.TrimSpace(lines[end]) != frontMatterDelimiter {
			continue
		}
		var fm frontMatter
		body := strings.Join(lines[first+1:end], "\n")
		if err := yaml.Unmarshal([]byte(body), &fm); err != nil {
			return nil, end + 1, &LineError{Line: first + 1, Text: frontMatterDelimiter, Reason: "invalid front-matter: " + err.Error()}
		}
		return &fm, end + 1, nil
	}

	// An unterminated block is treated as a single bad line.
	return nil, first + 1, &LineError{Line: first + 1, Text: frontMatterDelimiter, Reason: "unterminated front-matter"}
}

// stripComment trims whitespace and drops full-line and trailing comments.
func stripComment(line string) string {
	text := strings.TrimSpace(line)
	if strings.HasPrefix(text, commentMarker) {
		return ""
	}
	for i := 1; i < len(text); i++ {
		if text[i] == '#' && (text[i-1] == ' ' || text[i-1] == '\t') {
			return strings.TrimSpace(text[:i])
		}
	}
	return text
}

func parsePattern(text string, line int) (*Pattern, *LineError) {
	bad := func(reason string) *LineError {
		return &LineError{Line: line, Text: text, Reason: reason}
	}

	if strings.HasPrefix(text, "/") || strings.HasPrefix(text, "\\") || hasDrivePrefix(text) {
		return nil, bad("absolute paths are not allowed")
	}
	normalized := strings.ReplaceAll(text, "\\", "/")
	for _, seg := range strings.Split(normalized, "/") {
		if seg == ".." || strings.Contains(seg, "..") {
			return nil, bad("path traversal is not allowed")
		}
	}
	if strings.Contains(normalized, "//") || strings.HasSuffix(normalized, "/") {
		return nil, bad("empty path segment")
	}

	parts, err := tokenize(normalized)
	if err != "" {
		return nil, bad(err)
	}

	p := &Pattern{Template: normalized, Line: line, parts: parts}
	seen := make(map[model.Dimension]bool)
	for _, pt := range parts {
		if pt.isPlaceholder() && !seen[pt.placeholder] {
			seen[pt.placeholder] = true
			p.Placeholders = append(p.Placeholders, pt.placeholder)
		}
	}

	p.Depth = strings.Count(normalized, "/")
	for _, seg := range strings.Split(normalized, "/") {
		if !strings.Contains(seg, "{") {
			p.StaticSegments++
		}
	}
	p.Priority = Priority(len(p.Placeholders), p.Depth, p.StaticSegments)
	return p, nil
}

// tokenize splits a template into literal and placeholder parts.
func tokenize(s string) ([]part, string) {
	var parts []part
	var lit strings.Builder

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return nil, "unbalanced placeholder braces"
			}
			name := s[i+1 : i+1+end]
			if strings.ContainsAny(name, "{/") {
				return nil, "unbalanced placeholder braces"
			}
			if name == "" {
				return nil, "empty placeholder"
			}
			if !model.IsDimension(name) {
				return nil, fmt.Sprintf("unknown placeholder %q", name)
			}
			if lit.Len() > 0 {
				parts = append(parts, part{literal: lit.String()})
				lit.Reset()
			}
			parts = append(parts, part{placeholder: model.Dimension(name)})
			i += end + 1
		case '}':
			return nil, "unbalanced placeholder braces"
		default:
			lit.WriteByte(s[i])
		}
	}
	if lit.Len() > 0 {
		parts = append(parts, part{literal: lit.String()})
	}
	return parts, ""
}

func hasDrivePrefix(s string) bool {
	return len(s) >= 2 && s[1] == ':' &&
		((s[0] >= 'a' && s[0] <= 'z') || (s[0] >= 'A' && s[0] <= 'Z'))
}
