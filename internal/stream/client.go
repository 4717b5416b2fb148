// Package stream is the consuming side of the event wire contract: it opens
// one SSE stream per authenticated session, parses frames, and dispatches
// payloads to registered handlers by event type. The browser client follows
// the same contract; this implementation doubles as the Go SDK and the test
// harness for the server's framing.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
)

// Handler receives the decoded envelope payload for one event type.
type Handler func(payload json.RawMessage)

type envelope struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Client consumes one event stream. Reconnect is a full admission
// round-trip: the server assigns a fresh connection id and no events from
// the gap are replayed.
type Client struct {
	url   string
	token string
	http  *http.Client

	mu       sync.Mutex
	handlers map[string]Handler
	onOpen   func(connectionID string)
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewClient(url, sessionToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		url:      url,
		token:    sessionToken,
		http:     httpClient,
		handlers: map[string]Handler{},
	}
}

// On registers the handler for an event type, replacing any previous one.
func (c *Client) On(eventType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = h
}

// OnOpen registers a callback for the stream-open preamble, which carries
// the server-assigned connection id.
func (c *Client) OnOpen(fn func(connectionID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = fn
}

// Connect opens the stream and consumes it until the server closes it, ctx
// is done, or Disconnect is called. It blocks; run it in its own goroutine
// when the caller needs to keep working.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	defer close(done)

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("stream: already connected")
	}
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.done = nil
		c.mu.Unlock()
		cancel()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("stream: server answered %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return c.consume(resp.Body)
}

// consume parses the SSE framing: "event:"/"data:" lines accumulate, a
// blank line dispatches, ":" comment lines (keep-alives) are dropped.
func (c *Client) consume(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 16*1024), 1<<20)

	var eventName string
	var data []byte
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				c.dispatch(eventName, data)
			}
			eventName = ""
			data = nil
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:"))...)
		}
	}
	return scanner.Err()
}

func (c *Client) dispatch(eventName string, data []byte) {
	if eventName == "connected" {
		var preamble struct {
			ConnectionID string `json:"connectionId"`
		}
		if err := json.Unmarshal(data, &preamble); err != nil {
			log.Printf("stream: malformed preamble: %v", err)
			return
		}
		c.mu.Lock()
		onOpen := c.onOpen
		c.mu.Unlock()
		if onOpen != nil {
			onOpen(preamble.ConnectionID)
		}
		return
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("stream: dropping malformed %q frame: %v", eventName, err)
		return
	}

	c.mu.Lock()
	h := c.handlers[env.Type]
	c.mu.Unlock()
	if h == nil {
		// Unknown types are expected as the server grows the contract.
		log.Printf("stream: ignoring event of unhandled type %q", env.Type)
		return
	}
	h(env.Payload)
}

// Disconnect closes the current stream without retry and waits for the
// consume loop to unwind. Safe to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Reconnect closes the current stream and opens a new one, which is a fresh
// admission round-trip: new connection id, no replay of missed events.
func (c *Client) Reconnect(ctx context.Context) error {
	c.Disconnect()
	return c.Connect(ctx)
}
