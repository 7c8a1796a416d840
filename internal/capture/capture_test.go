package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type collector struct {
	mu  sync.Mutex
	buf bytes.Buffer
	n   int
}

func (c *collector) emit(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(p)
	c.n++
}

func (c *collector) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

func TestReaderSourceEmitsUntilEOF(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 100)
	var got collector
	src := &ReaderSource{R: bytes.NewReader(data), ReadSize: 30}
	if err := src.Run(context.Background(), got.emit); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(got.bytes(), data) {
		t.Fatalf("expected all bytes emitted, got %d", len(got.bytes()))
	}
	if got.n != 4 {
		t.Fatalf("expected 4 fragments, got %d", got.n)
	}
}

func TestReaderSourceStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- (&ReaderSource{R: pr}).Run(ctx, func([]byte) {})
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader source did not stop on cancel")
	}
}

func TestIsStop(t *testing.T) {
	cases := map[string]bool{
		"stop":              true,
		" STOP ":            true,
		`{"event":"stop"}`:  true,
		`{"event":"media"}`: false,
		"hello":             false,
	}
	for input, want := range cases {
		if got := isStop([]byte(input)); got != want {
			t.Fatalf("isStop(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestWebSocketSourceReadsUntilStop(t *testing.T) {
	var got collector
	result := make(chan error, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			result <- err
			return
		}
		defer conn.Close()
		result <- (&WebSocketSource{Conn: conn}).Run(r.Context(), got.emit)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	for _, frame := range []string{"one", "two"} {
		if err := client.WriteMessage(websocket.BinaryMessage, []byte(frame)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := client.WriteMessage(websocket.TextMessage, []byte("stop")); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("websocket source did not stop")
	}
	if string(got.bytes()) != "onetwo" {
		t.Fatalf("unexpected payload %q", got.bytes())
	}
}
