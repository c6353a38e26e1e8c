package internal

import (
	"bytes"
	"net/http"
	"strings"
	"testing"
)

func TestSecureLogger_RedactSensitiveData(t *testing.T) {
	logger := NewDefaultLogger(false, false)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "redact_cookie_header",
			input:    "Cookie: SID=abc123def456; other=value",
			expected: "Cookie: [REDACTED]; other=value",
		},
		{
			name:     "redact_authorization_header",
			input:    "Authorization: Bearer token123",
			expected: "Authorization: Bearer [REDACTED]",
		},
		{
			name:     "redact_delivery_token",
			input:    "GET /downloads/clip.mp4?token=0b7f6c1e-2d4a",
			expected: "GET /downloads/clip.mp4?token=[REDACTED]",
		},
		{
			name:     "redact_url_parameters",
			input:    "https://example.com/api?access_token=secret123&other=param",
			expected: "https://example.com/api?access_token=[REDACTED]&other=param",
		},
		{
			name:     "no_sensitive_data",
			input:    "This is a normal log message",
			expected: "This is a normal log message",
		},
		{
			name:     "multiple_sensitive_items",
			input:    "Cookie: SID=secret1; Authorization: Bearer secret2",
			expected: "Cookie: [REDACTED]; Authorization: Bearer [REDACTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := logger.redactSensitiveData(tt.input)
			if result != tt.expected {
				t.Errorf("redactSensitiveData() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestSecureLogger_LogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSecureLogger(&buf, LogLevelWarn, false, false)

	logger.Debug("debug message")
	logger.Info("info message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should not be logged when level is WARN")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should not be logged when level is WARN")
	}

	buf.Reset()
	logger.Warn("warn message")
	logger.Error("error message")

	output = buf.String()
	if !strings.Contains(output, "WARN warn message") {
		t.Errorf("Warn message should be logged when level is WARN, got: %s", output)
	}
	if !strings.Contains(output, "ERROR error message") {
		t.Errorf("Error message should be logged when level is WARN, got: %s", output)
	}
}

func TestSecureLogger_QuietMode(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSecureLogger(&buf, LogLevelDebug, false, true)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	if output := buf.String(); output != "" {
		t.Errorf("No messages should be logged in quiet mode except errors, got: %s", output)
	}

	logger.Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Error("Error messages should be logged even in quiet mode")
	}
}

func TestSecureLogger_DebugMode(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSecureLogger(&buf, LogLevelDebug, true, false)

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "logger_test.go:") {
		t.Errorf("Debug mode should include file and line information, got: %s", output)
	}
}

func TestSecureLogger_SetDebugRaisesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSecureLogger(&buf, LogLevelWarn, false, false)

	logger.SetDebug(true)
	logger.Debug("now visible")

	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("SetDebug(true) should enable debug output, got: %s", buf.String())
	}
}

func TestSecureLogger_HTTPRequestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSecureLogger(&buf, LogLevelDebug, true, false)

	req, _ := http.NewRequest("GET", "https://example.com/downloads/a.mp4?token=secret123", nil)
	req.Header.Set("Authorization", "Bearer secret456")
	req.Header.Set("User-Agent", "TestAgent/1.0")
	req.Header.Set("Cookie", "SID=secret789")

	logger.LogHTTPRequest(req)

	output := buf.String()
	for _, secret := range []string{"secret123", "secret456", "secret789"} {
		if strings.Contains(output, secret) {
			t.Errorf("output leaks %q: %s", secret, output)
		}
	}
	if !strings.Contains(output, "TestAgent/1.0") {
		t.Error("User-Agent should be preserved")
	}
	if !strings.Contains(output, "[REDACTED]") {
		t.Error("Redacted placeholder should be present")
	}
}

func TestSecureLogger_Writer(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSecureLogger(&buf, LogLevelInfo, false, false)

	w := logger.Writer(LogLevelInfo)
	n, err := w.Write([]byte("[GIN] GET /downloads/x.mp4?token=abc\n"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != len("[GIN] GET /downloads/x.mp4?token=abc\n") {
		t.Errorf("Write() = %d bytes, want full length", n)
	}
	if strings.Contains(buf.String(), "token=abc") {
		t.Errorf("writer output should be redacted, got: %s", buf.String())
	}
}

func TestSecureLogger_IsSensitiveHeader(t *testing.T) {
	logger := NewDefaultLogger(false, false)

	tests := []struct {
		header    string
		sensitive bool
	}{
		{"Authorization", true},
		{"Cookie", true},
		{"Set-Cookie", true},
		{"X-Auth-Token", true},
		{"X-API-Key", true},
		{"User-Agent", false},
		{"Content-Type", false},
		{"X-Request-ID", false},
		{"COOKIE", true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if result := logger.isSensitiveHeader(tt.header); result != tt.sensitive {
				t.Errorf("isSensitiveHeader(%q) = %v, want %v", tt.header, result, tt.sensitive)
			}
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LogLevelError, "ERROR"},
		{LogLevelWarn, "WARN"},
		{LogLevelInfo, "INFO"},
		{LogLevelDebug, "DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.level.String(); result != tt.expected {
				t.Errorf("LogLevel.String() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LogLevelDebug,
		"INFO":    LogLevelInfo,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
		"bogus":   LogLevelInfo,
	}

	for input, want := range tests {
		if got := parseLogLevel(input); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
