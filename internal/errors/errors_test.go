package errors

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
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
		{"config error", "H101", "Invalid configuration value", CategoryConfig},
		{"runtime error", "H201", "Controller not found", CategoryRuntime},
		{"listener error", "H300", "Listener failed", CategoryListener},
		{"storage error", "H500", "Journal flush failed", CategoryStorage},
		{"unknown code", "H999", "Unknown error", ""},
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

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"coded", New("H201"), "H201: Controller not found"},
		{"uncoded", Newf(CategoryCLI, "bad %s", "flag"), "bad flag"},
		{"wrapped", New("H500").Wrap(fmt.Errorf("throttled")), "H500: Journal flush failed: throttled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapAndIs(t *testing.T) {
	cause := stderrors.New("disk full")
	err := fmt.Errorf("saving: %w", New("H102").Wrap(cause))

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if !stderrors.Is(err, New("H102")) {
		t.Error("errors.Is(err, H102) = false")
	}
	if stderrors.Is(err, New("H100")) {
		t.Error("errors.Is(err, H100) = true")
	}
	if Code(err) != "H102" {
		t.Errorf("Code = %q, want H102", Code(err))
	}
	if Code(cause) != "" {
		t.Errorf("Code(plain) = %q", Code(cause))
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, "H100") != nil {
		t.Error("FromError(nil) != nil")
	}

	plain := stderrors.New("boom")
	he := FromError(plain, "H401")
	if he.Code != "H401" || he.Wrapped != plain {
		t.Errorf("FromError(plain) = %+v", he)
	}

	existing := New("H200")
	if got := FromError(fmt.Errorf("ctx: %w", existing), "H100"); got != existing {
		t.Errorf("FromError kept %+v, want original", got)
	}
}

func TestWithLocationFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herald.yaml")
	content := "server:\n  addr: x\n  bad: [\njournal: {}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	err := New("H100").WithLocationFromYAML(path, stderrors.New("yaml: line 3: did not find expected node content"))
	if err.Location == nil || err.Location.Line != 3 {
		t.Fatalf("Location = %+v, want line 3", err.Location)
	}
	if len(err.Context) != 3 || err.Context[1] != "  bad: [" {
		t.Errorf("Context = %q", err.Context)
	}

	noLine := New("H100").WithLocationFromYAML(path, stderrors.New("yaml: unmarshal errors"))
	if noLine.Location != nil {
		t.Errorf("Location = %+v, want nil", noLine.Location)
	}
}

func TestLocationString(t *testing.T) {
	var nilLoc *Location
	if nilLoc.String() != "" {
		t.Error("nil Location String() not empty")
	}
	if got := (&Location{File: "a.yaml", Line: 2}).String(); got != "a.yaml:2" {
		t.Errorf("String() = %q", got)
	}
	if got := (&Location{File: "a.yaml", Line: 2, Column: 5}).String(); got != "a.yaml:2:5" {
		t.Errorf("String() = %q", got)
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New("H101").
		WithSuggestion("use host:port").
		Wrap(stderrors.New("missing port"))
	err.Location = &Location{File: "herald.yaml", Line: 2}
	err.Context = []string{"server:", "  addr: nine", "journal:"}

	out := err.Format()
	for _, want := range []string{
		"ERROR H101: Invalid configuration value",
		"herald.yaml:2",
		"→    2 │   addr: nine",
		"Cause: missing port",
		"Hint: use host:port",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q:\n%s", want, out)
		}
	}

	if got := err.FormatCompact(); got != "herald.yaml:2: H101: Invalid configuration value: missing port" {
		t.Errorf("FormatCompact() = %q", got)
	}
}

func TestFormatJSON(t *testing.T) {
	err := New("H500").Wrap(stderrors.New("denied"))
	var out map[string]any
	if e := json.Unmarshal([]byte(err.FormatJSON()), &out); e != nil {
		t.Fatalf("FormatJSON not valid JSON: %v", e)
	}
	if out["code"] != "H500" || out["category"] != "storage" || out["cause"] != "denied" {
		t.Errorf("FormatJSON = %v", out)
	}
}

func TestFprint(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var buf bytes.Buffer
	Fprint(&buf, fmt.Errorf("serve: %w", New("H400")))
	if !strings.Contains(buf.String(), "ERROR H400") {
		t.Errorf("Fprint(herald) = %q", buf.String())
	}

	buf.Reset()
	Fprint(&buf, stderrors.New("plain"))
	if !strings.Contains(buf.String(), "ERROR: plain") {
		t.Errorf("Fprint(plain) = %q", buf.String())
	}
}

func TestCodesAndRegister(t *testing.T) {
	codes := Codes()
	for i := 1; i < len(codes); i++ {
		if codes[i-1] >= codes[i] {
			t.Fatalf("Codes not sorted: %v", codes)
		}
	}

	Register("H998", Template{Category: CategoryCLI, Message: "test"})
	defer delete(registry, "H998")
	if tpl, ok := Lookup("H998"); !ok || tpl.Message != "test" {
		t.Errorf("Lookup(H998) = %+v, %v", tpl, ok)
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
		t.Error("wrapText(\"\") != nil")
	}
}
