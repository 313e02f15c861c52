package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/spooled/spooled-sdk-go/auth"
)

// duplexTransport is a persistent websocket connection, preferred over
// pushTransport whenever it dials successfully: a single socket carries
// both inbound events and, eventually, subscribe/unsubscribe control frames
// without reopening a connection per topic.
type duplexTransport struct {
	url   string
	authn *auth.Authenticator

	conn *websocket.Conn
}

func newDuplexTransport(url string, authn *auth.Authenticator) *duplexTransport {
	return &duplexTransport{url: url, authn: authn}
}

// wireFrame is the JSON envelope exchanged over the duplex socket.
type wireFrame struct {
	Topic string `json:"topic"`
	ID    string `json:"id"`
	Data  string `json:"data"`
}

func (t *duplexTransport) Connect(ctx context.Context) error {
	header := http.Header{}
	if key, value, ok := t.authn.HeaderFor(auth.ResourceOrdinary); ok {
		header.Set(key, value)
	}

	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return err
	}
	conn.SetReadLimit(4 << 20)
	t.conn = conn
	return nil
}

func (t *duplexTransport) Recv(ctx context.Context) (Event, error) {
	_, raw, err := t.conn.Read(ctx)
	if err != nil {
		return Event{}, err
	}

	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Event{}, fmt.Errorf("realtime: malformed duplex frame: %w", err)
	}
	return Event{Topic: frame.Topic, ID: frame.ID, Data: []byte(frame.Data)}, nil
}

// ReconnectHint is always nil: the duplex socket carries no "retry:"
// equivalent, so reconnects always fall back to the configured base delay.
func (t *duplexTransport) ReconnectHint() *time.Duration { return nil }

func (t *duplexTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close(websocket.StatusNormalClosure, "closing")
}

// wsURLFromPushURL turns an http(s) push endpoint into the matching ws(s)
// duplex endpoint, used when callers configure only a single base URL.
func wsURLFromPushURL(pushURL string) string {
	switch {
	case strings.HasPrefix(pushURL, "https://"):
		return "wss://" + strings.TrimPrefix(pushURL, "https://")
	case strings.HasPrefix(pushURL, "http://"):
		return "ws://" + strings.TrimPrefix(pushURL, "http://")
	default:
		return pushURL
	}
}
