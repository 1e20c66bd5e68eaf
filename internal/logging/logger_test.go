package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSetAndGetLogger(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	customLogger := slog.New(slog.NewJSONHandler(&buf, nil))

	SetLogger(customLogger)

	if got := Logger(); got != customLogger {
		t.Error("Logger() did not return the logger set by SetLogger()")
	}
}

func TestSetOutput(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)

	Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, `"key"`) {
		t.Errorf("expected output to contain key, got: %s", output)
	}
}

func TestSetup(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	tests := []struct {
		name    string
		opts    Options
		log     func()
		want    string
		absent  string
		wantErr bool
	}{
		{
			name: "text debug",
			opts: Options{Level: "debug", Format: FormatText},
			log:  func() { Debug("handle attempt", Attempt(2)) },
			want: "attempt=2",
		},
		{
			name:   "json warn filters info",
			opts:   Options{Level: "warn", Format: FormatJSON},
			log:    func() { Info("hidden"); Warn("shown") },
			want:   `"msg":"shown"`,
			absent: "hidden",
		},
		{
			name: "redacted",
			opts: Options{Level: "info", Redact: true},
			log: func() {
				Info("dial", Endpoint("https://polygon-mainnet.g.alchemy.com/v2/abcdefghijklmnopqrstuvwxyz"))
			},
			want:   "/v2/REDACTED",
			absent: "abcdefghijklmnop",
		},
		{name: "bad level", opts: Options{Level: "loud"}, wantErr: true},
		{name: "bad format", opts: Options{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.opts.Output = &buf
			err := Setup(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Setup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			tt.log()
			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in output: %s", tt.want, out)
			}
			if tt.absent != "" && strings.Contains(out, tt.absent) {
				t.Errorf("did not expect %q in output: %s", tt.absent, out)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q) unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogWithContext(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ctx := context.Background()
	DebugContext(ctx, "debug ctx")
	InfoContext(ctx, "info ctx")
	WarnContext(ctx, "warn ctx")
	ErrorContext(ctx, "error ctx")

	output := buf.String()
	for _, msg := range []string{"debug ctx", "info ctx", "warn ctx", "error ctx"} {
		if !strings.Contains(output, msg) {
			t.Errorf("expected %q in output: %s", msg, output)
		}
	}
}

func TestWith(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)

	With(Component("connector")).Info("ready")

	if !strings.Contains(buf.String(), `"component":"connector"`) {
		t.Errorf("expected component attr in output: %s", buf.String())
	}
}

func TestAttrHelpers(t *testing.T) {
	tests := []struct {
		attr slog.Attr
		key  string
		want string
	}{
		{Wallet("0xabc"), "wallet", "0xabc"},
		{Address("0xdef"), "address", "0xdef"},
		{ChainID(137), "chain_id", "137"},
		{Attempt(3), "attempt", "3"},
		{Component("pricing"), "component", "pricing"},
		{Err(errors.New("boom")), "error", "boom"},
		{Err(nil), "error", ""},
		{Endpoint("https://rpc.example.org?apikey=secret"), "endpoint", "https://rpc.example.org?apikey=REDACTED"},
	}
	for _, tt := range tests {
		if tt.attr.Key != tt.key {
			t.Errorf("expected key %q, got %q", tt.key, tt.attr.Key)
		}
		if got := tt.attr.Value.String(); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.key, tt.want, got)
		}
	}
}

func TestAudit(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)

	Audit(AuditEvent{Operation: "referral_recorded", Actor: "api", Target: "0xabc", Result: "success"})

	out := buf.String()
	if !strings.Contains(out, `"audit":{"op":"referral_recorded"`) || !strings.Contains(out, `"target":"0xabc"`) {
		t.Errorf("unexpected audit output: %s", out)
	}
	if strings.Contains(out, "details") {
		t.Errorf("empty details should be omitted: %s", out)
	}
}

func TestConcurrentLogging(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(n int) {
			Info("concurrent message", "goroutine", n)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if buf.Len() == 0 {
		t.Error("expected some log output from concurrent logging")
	}
}
