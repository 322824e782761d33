package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/easyops/contextengine/internal/cli"
)

// writeConfig points a config at the bundled example content.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	fragments, err := filepath.Abs("../../../examples/basic/knowledge.yaml")
	if err != nil {
		t.Fatal(err)
	}
	modules, _ := filepath.Abs("../../../examples/basic/modules.yaml")

	body := "knowledge:\n" +
		"  fragments_path: " + fragments + "\n" +
		"  modules_path: " + modules + "\n" +
		"prompt:\n" +
		"  token_model: estimate\n" +
		"observability:\n" +
		"  logging:\n" +
		"    level: error\n" + extra

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := cli.NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestCompose_JSON(t *testing.T) {
	cfg := writeConfig(t, "")

	out, _, err := run(t, "-c", cfg, "-f", "json", "compose", "what", "are", "the", "opening", "hours")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got struct {
		Language  string   `json:"language"`
		Topics    []string `json:"topics"`
		Modules   []string `json:"modules"`
		Fragments []string `json:"fragments"`
		Length    int      `json:"length"`
		Text      string   `json:"text"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("expected json output, got %q", out)
	}
	if got.Language != "en" {
		t.Errorf("expected default language en, got %s", got.Language)
	}
	if len(got.Topics) == 0 || got.Topics[0] != "hours" {
		t.Errorf("expected hours topic, got %v", got.Topics)
	}
	if len(got.Modules) == 0 || got.Modules[0] != "identity" {
		t.Errorf("expected identity module first, got %v", got.Modules)
	}
	if len(got.Fragments) != 1 || got.Fragments[0] != "hours-en" {
		t.Errorf("expected hours-en attached, got %v", got.Fragments)
	}
	if got.Length != len([]rune(got.Text)) {
		t.Errorf("expected length to match text, got %d for %d runes", got.Length, len([]rune(got.Text)))
	}
}

func TestCompose_TextWithSession(t *testing.T) {
	cfg := writeConfig(t, "")

	out, _, err := run(t, "-c", cfg, "compose", "--lang", "is", "--session", "s-1", "opnunartími")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "# language=is") {
		t.Fatalf("expected summary line for is, got %q", out)
	}
}

func TestCompose_UnsupportedLanguageWarns(t *testing.T) {
	cfg := writeConfig(t, "")

	_, stderr, err := run(t, "-c", cfg, "compose", "--lang", "de", "opening hours")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stderr, "warning: unsupported_language") {
		t.Fatalf("expected language warning on stderr, got %q", stderr)
	}
}

func TestValidate(t *testing.T) {
	cfg := writeConfig(t, "")

	out, _, err := run(t, "-c", cfg, "--format", "json", "validate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got struct {
		Valid     bool                `json:"valid"`
		Fragments map[string]int      `json:"fragments"`
		Modules   int                 `json:"modules"`
		Always    map[string][]string `json:"always_include"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("expected json output, got %q", out)
	}
	if !got.Valid || got.Modules != 6 {
		t.Fatalf("unexpected validation result %+v", got)
	}
	if got.Fragments["en"] == 0 || got.Fragments["is"] == 0 {
		t.Errorf("expected fragments in both languages, got %v", got.Fragments)
	}
	if len(got.Always["is"]) <= len(got.Always["en"]) {
		t.Errorf("expected icelandic to carry an extra always-include module, got %v", got.Always)
	}

	text, _, err := run(t, "-c", cfg, "validate")
	if err != nil || !strings.HasPrefix(text, "configuration OK") {
		t.Fatalf("expected OK line, got %q (%v)", text, err)
	}
}

func TestValidate_BadContentPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "knowledge:\n  fragments_path: /does/not/exist.yaml\n  modules_path: /does/not/exist.yaml\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, _, err := run(t, "-c", path, "validate"); err == nil {
		t.Fatal("expected error for missing content files")
	}
}

func TestTopics(t *testing.T) {
	cfg := writeConfig(t, "")

	out, _, err := run(t, "-c", cfg, "topics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "TOPIC") || !strings.Contains(out, "hours") || !strings.Contains(out, "transport") {
		t.Fatalf("expected topic table, got %q", out)
	}

	out, _, err = run(t, "-c", cfg, "-f", "json", "topics", "is", "there", "a", "shuttle")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rows []struct {
		Topic  string `json:"topic"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("expected json output, got %q", out)
	}
	if len(rows) != 1 || rows[0].Topic != "transport" || rows[0].Source != "keyword" {
		t.Fatalf("expected keyword transport match, got %+v", rows)
	}

	if _, _, err := run(t, "-c", cfg, "topics", "--lang", "fr"); err == nil {
		t.Fatal("expected error for unsupported language")
	}
}

func TestRoot_InvalidFormat(t *testing.T) {
	cfg := writeConfig(t, "")

	_, _, err := run(t, "-c", cfg, "-f", "xml", "topics")
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Fatalf("expected format error, got %v", err)
	}
}
