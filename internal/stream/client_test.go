package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedFrame struct {
	event string
	data  string
}

func sseServer(t *testing.T, frames []scriptedFrame) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			if f.event == "" {
				fmt.Fprint(w, ": keepalive\n\n")
			} else {
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.data)
			}
			flusher.Flush()
		}
	}))
}

func TestClientDispatchesByType(t *testing.T) {
	srv := sseServer(t, []scriptedFrame{
		{event: "connected", data: `{"connectionId": "c-1"}`},
		{event: "new_message", data: `{"type": "new_message", "timestamp": "2026-08-30T10:00:00Z", "payload": {"conversationId": "42"}}`},
		{event: "message_update", data: `{"type": "message_update", "timestamp": "2026-08-30T10:00:01Z", "payload": {"messageId": "7"}}`},
	})
	defer srv.Close()

	c := NewClient(srv.URL, "tok", srv.Client())

	var openedWith string
	c.OnOpen(func(id string) { openedWith = id })

	var got []string
	c.On("new_message", func(p json.RawMessage) {
		var body struct {
			ConversationID string `json:"conversationId"`
		}
		require.NoError(t, json.Unmarshal(p, &body))
		got = append(got, "new_message:"+body.ConversationID)
	})
	c.On("message_update", func(p json.RawMessage) {
		got = append(got, "message_update")
	})

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, "c-1", openedWith)
	assert.Equal(t, []string{"new_message:42", "message_update"}, got)
}

func TestClientIgnoresUnknownTypesAndKeepalives(t *testing.T) {
	srv := sseServer(t, []scriptedFrame{
		{event: "", data: ""},
		{event: "shiny_future_thing", data: `{"type": "shiny_future_thing", "payload": {}}`},
		{event: "organization_update", data: `{"type": "organization_update", "payload": {"organizationId": "o-1"}}`},
		{event: "", data: ""},
	})
	defer srv.Close()

	c := NewClient(srv.URL, "tok", srv.Client())
	var got int
	c.On("organization_update", func(json.RawMessage) { got++ })

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, got)
}

func TestClientDropsMalformedFrames(t *testing.T) {
	srv := sseServer(t, []scriptedFrame{
		{event: "new_message", data: `{"type": "new_message", "payload"`},
		{event: "new_message", data: `{"type": "new_message", "payload": {}}`},
	})
	defer srv.Close()

	c := NewClient(srv.URL, "tok", srv.Client())
	var got int
	c.On("new_message", func(json.RawMessage) { got++ })

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, got)
}

func TestClientRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "User context required for SSE connection"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", srv.Client())
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClientDisconnectUnblocksConnect(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: connected\ndata: {\"connectionId\": \"c-9\"}\n\n")
		flusher.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, "tok", srv.Client())
	opened := make(chan struct{})
	c.OnOpen(func(string) { close(opened) })

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background()) }()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never opened")
	}

	c.Disconnect()

	select {
	case err := <-errCh:
		// Cancellation surfaces as a request context error.
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Disconnect")
	}
}

func TestClientSecondConnectRefused(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: connected\ndata: {\"connectionId\": \"c-2\"}\n\n")
		flusher.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", srv.Client())
	opened := make(chan struct{})
	c.OnOpen(func(string) { close(opened) })

	go func() { _ = c.Connect(context.Background()) }()
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never opened")
	}

	err := c.Connect(context.Background())
	require.Error(t, err)

	close(release)
	c.Disconnect()
}
