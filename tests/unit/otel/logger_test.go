package otel_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/easyops/contextengine/pkg/otel"
)

func TestNewLoggerFromConfig_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{"debug", []string{"d", "i", "w", "e"}},
		{"info", []string{"i", "w", "e"}},
		{"warn", []string{"w", "e"}},
		{"error", []string{"e"}},
		{"", []string{"i", "w", "e"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := otel.NewLoggerFromConfig(otel.LoggingConfig{Level: tt.level, Format: "json"}, &buf)

			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")

			var got []string
			for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
				if line == "" {
					continue
				}
				var rec map[string]any
				if err := json.Unmarshal([]byte(line), &rec); err != nil {
					t.Fatalf("expected json line, got %q", line)
				}
				got = append(got, rec["msg"].(string))
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNewLoggerFromConfig_Text(t *testing.T) {
	var buf bytes.Buffer
	l := otel.NewLoggerFromConfig(otel.LoggingConfig{Format: "text"}, &buf)

	l.Info("composed", "modules", 3)
	if !strings.Contains(buf.String(), "msg=composed") || !strings.Contains(buf.String(), "modules=3") {
		t.Fatalf("unexpected text output %q", buf.String())
	}
}

func TestSlogLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	base := otel.NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	scoped := base.WithFields(map[string]any{"request_id": "r-1"})
	scoped.Info("detected", "topics", 2)
	base.Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first, second map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &first)
	_ = json.Unmarshal([]byte(lines[1]), &second)
	if first["request_id"] != "r-1" || first["topics"] != float64(2) {
		t.Fatalf("expected scoped fields, got %v", first)
	}
	if _, ok := second["request_id"]; ok {
		t.Fatal("expected base logger to stay unscoped")
	}
}

func TestSlogLogger_WithContextWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	l := otel.NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	l.WithContext(context.Background()).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Fatalf("expected no trace id without a span, got %q", buf.String())
	}
}

func TestNoopLogger(t *testing.T) {
	l := otel.NewNoopLogger()
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
	if l.WithFields(map[string]any{"a": 1}) == nil || l.WithContext(context.Background()) == nil {
		t.Fatal("expected noop logger to return itself")
	}
}

func TestAttributes(t *testing.T) {
	shape := otel.PromptShape(3, 2, 480)
	if len(shape) != 3 || shape[0].Key != otel.AttrModuleCount || shape[2].Value.AsInt64() != 480 {
		t.Fatalf("unexpected prompt shape attributes %v", shape)
	}

	errs := otel.ErrorAttrs("timeout", "deadline exceeded", true)
	if len(errs) != 3 || !errs[2].Value.AsBool() {
		t.Fatalf("unexpected error attributes %v", errs)
	}
}
