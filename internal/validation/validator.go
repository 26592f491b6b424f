package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/devrev/promptsource/internal/errors"
)

const (
	// Size limits
	MaxContentSize = 50 * 1024 // 50 KB
	MaxLineLength  = 10000     // characters; longer lines usually mean binary data

	// Warning thresholds
	MinExpectedLength   = 40
	MaxPlaceholderCount = 50
)

// Substrings that indicate the content is code or markup rather than a prompt.
// Matched case-insensitively.
var injectionMarkers = []string{
	"<script",
	"</script>",
	"javascript:",
	"<?php",
	"${jndi:",
	"eval(",
	"exec.command(",
	"__import__(",
	"os.system(",
	"subprocess.run(",
	"subprocess.popen(",
	"subprocess.call(",
	"subprocess.check_output(",
	"require('child_process')",
	"require(\"child_process\")",
	"{{constructor",
	"rm -rf /",
}

var placeholderPattern = regexp.MustCompile(`\{\{?\s*\.?[A-Za-z_][A-Za-z0-9_.]*\s*\}\}?`)

// Result is the outcome of validating one piece of content
type Result struct {
	Accepted bool
	Code     string // stable rejection label
	Reason   string
	Warnings []string
}

// Rejection codes
const (
	CodeEmpty       = "empty"
	CodeTooLarge    = "too_large"
	CodeNullByte    = "null_byte"
	CodeLineTooLong = "line_too_long"
	CodeInjection   = "injection_marker"
)

// Err converts a rejection into a validation-failed FetchError; nil when accepted.
func (r Result) Err(filePath string) error {
	if r.Accepted {
		return nil
	}
	return errors.ValidationFailed(r.Reason).WithLocation("", filePath)
}

func reject(code, format string, args ...interface{}) Result {
	return Result{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Validator classifies fetched prompt content. It never fetches or caches.
type Validator struct {
	maxContentSize int
	maxLineLength  int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxContentSize: MaxContentSize,
		maxLineLength:  MaxLineLength,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxContentSize, maxLineLength int) *Validator {
	return &Validator{
		maxContentSize: maxContentSize,
		maxLineLength:  maxLineLength,
	}
}

// Validate accepts or rejects content fetched from filePath
func (v *Validator) Validate(content, filePath string) Result {
	if strings.TrimSpace(content) == "" {
		return reject(CodeEmpty, "content is empty")
	}

	if len(content) > v.maxContentSize {
		return reject(CodeTooLarge, "content size %d exceeds maximum %d bytes", len(content), v.maxContentSize)
	}

	if strings.IndexByte(content, 0) >= 0 {
		return reject(CodeNullByte, "content contains null bytes")
	}

	for i, line := range strings.Split(content, "\n") {
		if len(line) <= v.maxLineLength {
			continue
		}
		if n := utf8.RuneCountInString(line); n > v.maxLineLength {
			return reject(CodeLineTooLong, "line %d has %d characters, maximum is %d", i+1, n, v.maxLineLength)
		}
	}

	lower := strings.ToLower(content)
	for _, marker := range injectionMarkers {
		if strings.Contains(lower, marker) {
			return reject(CodeInjection, "content contains disallowed sequence %q", marker)
		}
	}

	result := Result{Accepted: true}

	if len(strings.TrimSpace(content)) < MinExpectedLength {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("content of %s is unusually short (%d bytes)", filePath, len(strings.TrimSpace(content))))
	}

	if n := len(placeholderPattern.FindAllStringIndex(content, -1)); n > MaxPlaceholderCount {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("content of %s has %d template placeholders", filePath, n))
	}

	return result
}
