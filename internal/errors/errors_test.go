package errors

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{
			name:    "config error",
			code:    "E101",
			wantMsg: "Invalid configuration file",
			wantCat: CategoryConfig,
		},
		{
			name:    "protocol error",
			code:    "E300",
			wantMsg: "WebSocket upgrade failed",
			wantCat: CategoryProtocol,
		},
		{
			name:    "cli error",
			code:    "E401",
			wantMsg: "Invalid hash",
			wantCat: CategoryCLI,
		},
		{
			name:    "unknown error code",
			code:    "E999",
			wantMsg: "Unknown error",
			wantCat: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CategoryWatcher, "source %q not ready", "tab-1")
	if err.Message != `source "tab-1" not ready` {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Category != CategoryWatcher {
		t.Errorf("Category = %q, want %q", err.Category, CategoryWatcher)
	}
}

func TestUrlbarError_Error(t *testing.T) {
	err := New("E102")
	if got, want := err.Error(), "E102: Invalid port"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err2 := &UrlbarError{Message: "test error"}
	if err2.Error() != "test error" {
		t.Errorf("Error() = %q, want %q", err2.Error(), "test error")
	}

	wrapped := New("E101").Wrap(stderrors.New("permission denied"))
	if got, want := wrapped.Error(), "E101: Invalid configuration file: permission denied"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUrlbarError_Unwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := New("E400").Wrap(cause)
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}

	var ue *UrlbarError
	if !stderrors.As(err, &ue) {
		t.Fatal("errors.As should match *UrlbarError")
	}
	if ue.Code != "E400" {
		t.Errorf("Code = %q, want E400", ue.Code)
	}
}

func TestUrlbarError_WithOffset(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "urlbar.json")
	data := []byte("{\n  \"watch\": {\n    \"interval\": x\n  }\n}\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	offset := int64(bytes.IndexByte(data, 'x') + 1)
	err := New("E101").WithOffset(path, data, offset)
	if err.Location == nil {
		t.Fatal("Location is nil")
	}
	if err.Location.Line != 3 {
		t.Errorf("Line = %d, want 3", err.Location.Line)
	}
	if err.Location.Column != 17 {
		t.Errorf("Column = %d, want 17", err.Location.Column)
	}
	if len(err.Context) == 0 {
		t.Error("Context should not be empty")
	}

	if New("E101").WithOffset(path, data, 0).Location != nil {
		t.Error("zero offset should not set a location")
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New("E103").
		WithSuggestion(`Use a duration such as "200ms"`).
		Wrap(stderrors.New("time: invalid duration"))

	out := err.Format()
	for _, want := range []string{
		"ERROR E103: Invalid poll interval",
		"Cause: time: invalid duration",
		`Hint: Use a duration such as "200ms"`,
		"Learn more: ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("Format() should not contain ANSI codes when colors are disabled")
	}
}

func TestFormatCompact(t *testing.T) {
	err := &UrlbarError{
		Code:     "E101",
		Message:  "Invalid configuration file",
		Location: &Location{File: "urlbar.json", Line: 3, Column: 5},
	}
	if got, want := err.FormatCompact(), "urlbar.json:3:5: E101: Invalid configuration file"; got != want {
		t.Errorf("FormatCompact() = %q, want %q", got, want)
	}
}

func TestFprint(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var buf bytes.Buffer
	Fprint(&buf, stderrors.New("plain failure"))
	if !strings.Contains(buf.String(), "ERROR: plain failure") {
		t.Errorf("Fprint() = %q", buf.String())
	}

	buf.Reset()
	Fprint(&buf, New("E100"))
	if !strings.Contains(buf.String(), "E100: Configuration file not found") {
		t.Errorf("Fprint() = %q", buf.String())
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, "E400") != nil {
		t.Error("FromError(nil) should be nil")
	}

	orig := New("E102")
	if FromError(orig, "E400") != orig {
		t.Error("FromError should return an existing UrlbarError unchanged")
	}

	wrapped := FromError(stderrors.New("listen tcp: address in use"), "E400")
	if wrapped.Code != "E400" || wrapped.Wrapped == nil {
		t.Errorf("FromError = %+v", wrapped)
	}
}

func TestRegistry(t *testing.T) {
	for _, code := range GetAllCodes() {
		tmpl, ok := GetTemplate(code)
		if !ok {
			t.Fatalf("GetTemplate(%q) missing", code)
		}
		if tmpl.Message == "" || tmpl.Category == "" {
			t.Errorf("%s: incomplete template %+v", code, tmpl)
		}
	}

	codes := GetAllCodes()
	if !sort.StringsAreSorted(codes) {
		t.Errorf("GetAllCodes not sorted: %v", codes)
	}
	if _, ok := GetTemplate("E999"); ok {
		t.Error("GetTemplate(E999) should be missing")
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText(strings.Repeat("word ", 40), 20)
	for _, l := range lines {
		if len(l) > 20 {
			t.Errorf("line %q longer than 20", l)
		}
	}
	if wrapText("", 10) != nil {
		t.Error("empty text should wrap to nil")
	}
}
