package realtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spooled/spooled-sdk-go/auth"
)

// pushTransport is a one-way, line-delimited event stream read over a
// long-lived HTTP response body: the lowest-common-denominator fallback
// when a duplex socket can't be established.
type pushTransport struct {
	url        string
	authn      *auth.Authenticator
	httpClient *http.Client

	resp   *http.Response
	scan   *bufio.Scanner
	cancel context.CancelFunc

	// retryHint is set when the server sends a "retry:" field, overriding
	// the caller's reconnect backoff for the next attempt.
	retryHint *time.Duration
}

func newPushTransport(url string, authn *auth.Authenticator) *pushTransport {
	return &pushTransport{
		url:        url,
		authn:      authn,
		httpClient: &http.Client{},
	}
}

func (t *pushTransport) Connect(ctx context.Context) error {
	reqCtx, cancel := context.WithCancel(ctx)

	reqURL := t.url
	if key, value, ok := t.authn.QueryParam(); ok {
		sep := "?"
		if strings.Contains(reqURL, "?") {
			sep = "&"
		}
		reqURL = fmt.Sprintf("%s%s%s=%s", reqURL, sep, key, value)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if key, value, ok := t.authn.HeaderFor(auth.ResourceOrdinary); ok {
		req.Header.Set(key, value)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("realtime: push transport connect: unexpected status %d", resp.StatusCode)
	}

	t.resp = resp
	t.scan = bufio.NewScanner(resp.Body)
	t.scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	t.cancel = cancel
	return nil
}

// Recv reads the next dispatched event, parsing "event:"/"data:"/"id:"/
// "retry:" fields terminated by a blank line. Multi-line "data:" fields are
// joined with "\n" per the streamed-event framing convention.
func (t *pushTransport) Recv(ctx context.Context) (Event, error) {
	var topic, id string
	var data []string

	for t.scan.Scan() {
		line := t.scan.Text()

		if line == "" {
			if len(data) == 0 {
				topic, id, data = "", "", nil
				continue
			}
			return Event{Topic: topic, ID: id, Data: []byte(strings.Join(data, "\n"))}, nil
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			topic = value
		case "data":
			data = append(data, value)
		case "id":
			id = value
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil {
				hint := time.Duration(ms) * time.Millisecond
				t.retryHint = &hint
			}
		}
	}

	if err := t.scan.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// ReconnectHint returns and clears the most recently parsed "retry:" hint.
func (t *pushTransport) ReconnectHint() *time.Duration {
	hint := t.retryHint
	t.retryHint = nil
	return hint
}

func (t *pushTransport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.resp != nil {
		return t.resp.Body.Close()
	}
	return nil
}
