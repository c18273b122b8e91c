package fibaro

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The hub speaks plain HTTP/1.1 over a long-lived TCP connection.
// Requests are serialized by hand and responses framed at the blank line
// so both channels can pipeline over a single socket without the
// lifecycle assumptions of net/http's client.

const crlf = "\r\n"

// basicAuth returns the Authorization header value for the hub credentials.
func basicAuth(username, password string) string {
	cred := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return "Basic " + cred
}

// buildRequest serializes one HTTP/1.1 request.
// Content-Type and Content-Length are emitted only when a body is present.
func buildRequest(method, path, host, auth string, body []byte) []byte {
	var b bytes.Buffer
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteString(" HTTP/1.1" + crlf)
	b.WriteString("Host: " + host + crlf)
	b.WriteString("Authorization: " + auth + crlf)
	b.WriteString("Accept: application/json" + crlf)
	b.WriteString("Connection: keep-alive" + crlf)
	if len(body) > 0 {
		b.WriteString("Content-Type: application/json" + crlf)
		b.WriteString("Content-Length: " + strconv.Itoa(len(body)) + crlf)
	}
	b.WriteString(crlf)
	b.Write(body)
	return b.Bytes()
}

// Hub request paths.

func deviceFetchPath(id int) string {
	return fmt.Sprintf("/api/devices/%d", id)
}

func deviceActionPath(id int, action string) string {
	return fmt.Sprintf("/api/devices/%d/action/%s", id, action)
}

func sceneExecutePath(id int) string {
	return fmt.Sprintf("/api/scenes/%d/execute", id)
}

func refreshPath(cursor int64, haveCursor bool) string {
	// Cursor zero means no cursor; the hub treats a bare request as
	// "start from now".
	if !haveCursor || cursor <= 0 {
		return "/api/refreshStates"
	}
	return fmt.Sprintf("/api/refreshStates?last=%d", cursor)
}

func setValueBody(level int) []byte {
	return []byte(fmt.Sprintf(`{"arg1": %d}`, level))
}

// wireResponse is one framed HTTP response from the hub.
type wireResponse struct {
	StatusLine string
	Headers    map[string]string // keys lowercased
	Body       []byte
}

// OK reports whether the status line carries a success status.
// Matching is deliberately loose: the hub's firmware varies in what it
// puts around the status, so the raw line is searched for the known
// success phrases.
func (r *wireResponse) OK() bool {
	return strings.Contains(r.StatusLine, "200 OK") ||
		strings.Contains(r.StatusLine, "202 Accepted")
}

// readResponse reads one response off the wire: status line, headers up to
// the blank line, then the body per Content-Length or chunked encoding.
func readResponse(br *bufio.Reader) (*wireResponse, error) {
	statusLine, err := readLine(br)
	if err != nil {
		return nil, err
	}
	if statusLine == "" {
		return nil, fmt.Errorf("%w: empty status line", ErrMalformedResponse)
	}

	resp := &wireResponse{
		StatusLine: statusLine,
		Headers:    make(map[string]string),
	}

	// Headers end at the first empty line.
	for {
		line, err := readLine(br)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		resp.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	if strings.EqualFold(resp.Headers["transfer-encoding"], "chunked") {
		body, err := readChunkedBody(br)
		if err != nil {
			return nil, err
		}
		resp.Body = body
		return resp, nil
	}

	if cl := resp.Headers["content-length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: content-length %q", ErrMalformedResponse, cl)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		resp.Body = body
	}

	return resp, nil
}

// readLine reads one CRLF-terminated line, tolerating bare LF.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readChunkedBody decodes a chunked transfer body.
func readChunkedBody(br *bufio.Reader) ([]byte, error) {
	var body bytes.Buffer
	for {
		sizeLine, err := readLine(br)
		if err != nil {
			return nil, fmt.Errorf("read chunk size: %w", err)
		}
		// Chunk extensions after ';' are ignored.
		sizeField, _, _ := strings.Cut(sizeLine, ";")
		size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 32)
		if err != nil || size < 0 {
			return nil, fmt.Errorf("%w: chunk size %q", ErrMalformedResponse, sizeLine)
		}
		if size == 0 {
			// Trailer section, ends at an empty line.
			for {
				line, err := readLine(br)
				if err != nil {
					return nil, fmt.Errorf("read trailer: %w", err)
				}
				if line == "" {
					return body.Bytes(), nil
				}
			}
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, fmt.Errorf("read chunk: %w", err)
		}
		body.Write(chunk)
		// Chunk data is followed by CRLF.
		if _, err := readLine(br); err != nil {
			return nil, fmt.Errorf("read chunk terminator: %w", err)
		}
	}
}
