package logger

import (
	"bytes"
	"io"
	"regexp"
)

// RedactWriter wraps an io.Writer and masks sensitive values before writing.
// It redacts signing secrets, SMTP credentials, archive API keys, and any
// JWT-shaped string. A capability token is a bearer credential: a log line
// containing one is equivalent to leaking the grant itself.
type RedactWriter struct {
	w          io.Writer
	patterns   []*regexp.Regexp
	redactWith string
}

var defaultPatterns = []*regexp.Regexp{
	// Signing and delivery secrets in key=value or "key":"value" form
	regexp.MustCompile(`(?i)(jwt_private_key["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(download_sign_secret["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(smtp_password["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(password["'\s:=]+)\S+`),
	// Archive gateway API keys
	regexp.MustCompile(`(?i)(api[_-]?key["'\s:=]+)[A-Za-z0-9\-_]{16,}`),
	regexp.MustCompile(`(?i)(archive_api_key["'\s:=]+)\S+`),
	// Bearer tokens in Authorization headers
	regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9\-_\.]+`),
	// Tokens passed as parameters or fields
	regexp.MustCompile(`(?i)(token["'\s:=]+)[A-Za-z0-9\-_\.]{8,}`),
	// Any bare JWT (three base64url segments)
	regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
}

// NewRedactWriter returns a RedactWriter that applies all default sensitive patterns.
func NewRedactWriter(w io.Writer) *RedactWriter {
	return &RedactWriter{
		w:          w,
		patterns:   defaultPatterns,
		redactWith: "[REDACTED]",
	}
}

// Write applies all redaction patterns before forwarding to the underlying writer.
func (r *RedactWriter) Write(p []byte) (int, error) {
	sanitized := p
	for _, re := range r.patterns {
		sanitized = re.ReplaceAll(sanitized, replacement(re, r.redactWith))
	}
	n, err := r.w.Write(sanitized)
	// Return original length so callers don't get short-write errors
	// even if redaction changed the byte count.
	if n > len(sanitized) {
		n = len(sanitized)
	}
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// replacement builds a replacement []byte that keeps capture group $1 (when
// the pattern has one) followed by the redaction marker.
func replacement(re *regexp.Regexp, redact string) []byte {
	var buf bytes.Buffer
	if re.NumSubexp() > 0 {
		buf.WriteString("${1}")
	}
	buf.WriteString(redact)
	return buf.Bytes()
}
