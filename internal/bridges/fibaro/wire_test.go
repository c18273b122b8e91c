package fibaro

import (
	"bufio"
	"errors"
	"strings"
	"testing"
)

func TestBasicAuth(t *testing.T) {
	got := basicAuth("admin", "secret")
	want := "Basic YWRtaW46c2VjcmV0"
	if got != want {
		t.Errorf("basicAuth() = %q, want %q", got, want)
	}
}

func TestBuildRequestNoBody(t *testing.T) {
	req := string(buildRequest("GET", "/api/devices/12", "hub.local", "Basic abc", nil))

	if !strings.HasPrefix(req, "GET /api/devices/12 HTTP/1.1\r\n") {
		t.Errorf("unexpected request line: %q", req)
	}
	if !strings.Contains(req, "Host: hub.local\r\n") {
		t.Error("missing Host header")
	}
	if !strings.Contains(req, "Authorization: Basic abc\r\n") {
		t.Error("missing Authorization header")
	}
	if !strings.Contains(req, "Connection: keep-alive\r\n") {
		t.Error("missing Connection header")
	}
	if strings.Contains(req, "Content-Length") {
		t.Error("Content-Length should not be present without a body")
	}
	if !strings.HasSuffix(req, "\r\n\r\n") {
		t.Error("request should end with blank line")
	}
}

func TestBuildRequestWithBody(t *testing.T) {
	body := setValueBody(42)
	req := string(buildRequest("POST", "/api/devices/5/action/setValue", "hub.local", "Basic abc", body))

	if !strings.Contains(req, "Content-Type: application/json\r\n") {
		t.Error("missing Content-Type header")
	}
	if !strings.Contains(req, "Content-Length: 12\r\n") {
		t.Errorf("wrong Content-Length, request: %q", req)
	}
	if !strings.HasSuffix(req, `{"arg1": 42}`) {
		t.Errorf("body not appended: %q", req)
	}
}

func TestRequestPaths(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"device fetch", deviceFetchPath(37), "/api/devices/37"},
		{"turn on", deviceActionPath(37, "turnOn"), "/api/devices/37/action/turnOn"},
		{"scene execute", sceneExecutePath(4), "/api/scenes/4/execute"},
		{"refresh no cursor", refreshPath(0, false), "/api/refreshStates"},
		{"refresh with cursor", refreshPath(9981, true), "/api/refreshStates?last=9981"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestReadResponseContentLength(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 13\r\n" +
		"\r\n" +
		`{"id": 12345}`

	resp, err := readResponse(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readResponse() error: %v", err)
	}
	if !resp.OK() {
		t.Error("expected OK status")
	}
	if resp.Headers["content-type"] != "application/json" {
		t.Errorf("header not lowercased/parsed: %v", resp.Headers)
	}
	if string(resp.Body) != `{"id": 12345}` {
		t.Errorf("wrong body: %q", resp.Body)
	}
}

func TestReadResponseChunked(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"\r\n" +
		"7\r\n{\"last\"\r\n" +
		"5\r\n: 42}\r\n" +
		"0\r\n\r\n"

	resp, err := readResponse(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readResponse() error: %v", err)
	}
	if string(resp.Body) != `{"last": 42}` {
		t.Errorf("wrong body: %q", resp.Body)
	}
}

func TestReadResponseBareLF(t *testing.T) {
	raw := "HTTP/1.1 202 Accepted\n" +
		"Content-Length: 2\n" +
		"\n" +
		"{}"

	resp, err := readResponse(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readResponse() error: %v", err)
	}
	if !resp.OK() {
		t.Errorf("202 Accepted should be OK, status line %q", resp.StatusLine)
	}
	if string(resp.Body) != "{}" {
		t.Errorf("wrong body: %q", resp.Body)
	}
}

func TestReadResponseNoBody(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n\r\n"

	resp, err := readResponse(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readResponse() error: %v", err)
	}
	if len(resp.Body) != 0 {
		t.Errorf("expected empty body, got %q", resp.Body)
	}
}

func TestReadResponseBadContentLength(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"Content-Length: banana\r\n" +
		"\r\n"

	_, err := readResponse(bufio.NewReader(strings.NewReader(raw)))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestResponseOK(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"HTTP/1.1 200 OK", true},
		{"HTTP/1.1 202 Accepted", true},
		{"HTTP/1.0 200 OK", true},
		{"HTTP/1.1 401 Unauthorized", false},
		{"HTTP/1.1 500 Internal Server Error", false},
		{"HTTP/1.1 404 Not Found", false},
	}
	for _, tt := range tests {
		resp := wireResponse{StatusLine: tt.line}
		if resp.OK() != tt.want {
			t.Errorf("OK(%q) = %v, want %v", tt.line, !tt.want, tt.want)
		}
	}
}
