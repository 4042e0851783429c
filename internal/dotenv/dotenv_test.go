package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
}

func TestLoadFile_LoadsValuesAndPreservesExisting(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# engine settings\n" +
		"TONE_TEST_FROM_FILE=loaded\n" +
		"TONE_TEST_QUOTED=\"postgres://db/tone engine\"\n" +
		"export TONE_TEST_EXPORTED='ok'\n" +
		"TONE_TEST_EXISTING=from_file\n" +
		"not-an-assignment\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("TONE_TEST_EXISTING", "already_set")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("TONE_TEST_FROM_FILE")
		os.Unsetenv("TONE_TEST_QUOTED")
		os.Unsetenv("TONE_TEST_EXPORTED")
	})

	if got := os.Getenv("TONE_TEST_FROM_FILE"); got != "loaded" {
		t.Fatalf("TONE_TEST_FROM_FILE = %q", got)
	}
	if got := os.Getenv("TONE_TEST_QUOTED"); got != "postgres://db/tone engine" {
		t.Fatalf("TONE_TEST_QUOTED = %q", got)
	}
	if got := os.Getenv("TONE_TEST_EXPORTED"); got != "ok" {
		t.Fatalf("TONE_TEST_EXPORTED = %q", got)
	}
	if got := os.Getenv("TONE_TEST_EXISTING"); got != "already_set" {
		t.Fatalf("TONE_TEST_EXISTING = %q, existing value must win", got)
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		line string
		key  string
		val  string
		ok   bool
	}{
		{"A=1", "A", "1", true},
		{"  B = two ", "B", "two", true},
		{`C="quoted"`, "C", "quoted", true},
		{"export D=4", "D", "4", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"no-assignment", "", "", false},
		{"=value", "", "", false},
	}
	for _, tc := range cases {
		key, val, ok := parseLine(tc.line)
		if key != tc.key || val != tc.val || ok != tc.ok {
			t.Errorf("parseLine(%q) = %q/%q/%v, want %q/%q/%v", tc.line, key, val, ok, tc.key, tc.val, tc.ok)
		}
	}
}
