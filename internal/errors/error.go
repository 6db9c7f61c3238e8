package errors

import (
	"bufio"
	"fmt"
	"os"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryWatcher  Category = "watcher"
	CategoryProtocol Category = "protocol"
	CategoryCLI      Category = "cli"
)

// Location represents a position in a file.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// UrlbarError is a structured error with location, suggestion and documentation.
type UrlbarError struct {
	// Code is a unique error identifier (e.g., "E101").
	Code string

	// Category is the error type (config, watcher, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the file position where the error occurred.
	Location *Location

	// Context contains the surrounding file lines.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *UrlbarError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *UrlbarError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds a file location to the error and reads the lines around it.
func (e *UrlbarError) WithLocation(file string, line, column int) *UrlbarError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	return e
}

// WithOffset sets the location from a byte offset into data, as reported by
// encoding/json syntax errors.
func (e *UrlbarError) WithOffset(file string, data []byte, offset int64) *UrlbarError {
	if offset <= 0 || int(offset) > len(data) {
		return e
	}
	line, col := 1, 1
	for _, b := range data[:offset-1] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return e.WithLocation(file, line, col)
}

// WithSuggestion adds a fix suggestion to the error.
func (e *UrlbarError) WithSuggestion(s string) *UrlbarError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *UrlbarError) WithDetail(d string) *UrlbarError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *UrlbarError) Wrap(err error) *UrlbarError {
	e.Wrapped = err
	return e
}

func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}

	return lines
}

// New creates an UrlbarError from a registered error code.
func New(code string) *UrlbarError {
	template, ok := registry[code]
	if !ok {
		return &UrlbarError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &UrlbarError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
		DocURL:   template.DocURL,
	}
}

// Newf creates a new UrlbarError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *UrlbarError {
	return &UrlbarError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in an UrlbarError.
func FromError(err error, code string) *UrlbarError {
	if err == nil {
		return nil
	}
	if ue, ok := err.(*UrlbarError); ok {
		return ue
	}
	return New(code).Wrap(err)
}
