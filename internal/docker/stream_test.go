package docker

import (
	"strings"
	"testing"
)

func TestDecodeStreamForwardsLines(t *testing.T) {
	stream := strings.NewReader(
		`{"stream":"Step 1/4 : FROM python:3.12-slim"}` + "\n" +
			`{"status":"Pushing","id":"a1b2c3","progressDetail":{"current":512,"total":1024}}` + "\n" +
			`{"aux":{"Digest":"sha256:abc"}}` + "\n",
	)

	var lines []string
	if err := decodeStream(stream, func(line string) { lines = append(lines, line) }); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 rendered lines, got %v", lines)
	}
	if lines[0] != "Step 1/4 : FROM python:3.12-slim" {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(lines[1], "512/1024") {
		t.Fatalf("expected progress fraction, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "sha256:abc") {
		t.Fatalf("expected digest line, got %q", lines[2])
	}
}

func TestDecodeStreamSurfacesEmbeddedError(t *testing.T) {
	stream := strings.NewReader(
		`{"stream":"Step 1/4"}` + "\n" +
			`{"errorDetail":{"message":"denied: not authorized"},"error":"denied: not authorized"}` + "\n",
	)

	err := decodeStream(stream, nil)
	if err == nil {
		t.Fatalf("expected embedded error to surface")
	}
	if !strings.Contains(err.Error(), "denied: not authorized") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDecodeStreamRejectsMalformedJSON(t *testing.T) {
	if err := decodeStream(strings.NewReader("not-json"), nil); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestEncodeAuthRoundTrips(t *testing.T) {
	encoded, err := EncodeAuth("AWS", "token", "123456789012.dkr.ecr.us-east-1.amazonaws.com")
	if err != nil {
		t.Fatalf("encode auth: %v", err)
	}
	if encoded == "" || strings.ContainsAny(encoded, "{}:") {
		t.Fatalf("expected opaque base64 payload, got %q", encoded)
	}
}
