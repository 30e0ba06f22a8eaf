package selfchat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
)

// SocketBridge is a Watcher plus Emitter over a unix domain socket.
// An external observer process (the bridge that actually sits on the
// message database) connects and streams observed events as one JSON
// object per line; send commands flow back on the same connection.
type SocketBridge struct {
	path     string
	listener net.Listener

	mu   sync.Mutex
	conn net.Conn
}

// sendCommand is the wire shape for outbound deliveries. The bridge
// process marks the sent message with GUID so the observer can report
// it back and the dedup layer recognizes it.
type sendCommand struct {
	Type string `json:"type"`
	GUID string `json:"guid"`
	To   string `json:"to"`
	Body string `json:"body"`
}

func NewSocketBridge(path string) *SocketBridge {
	return &SocketBridge{path: path}
}

// Watch listens on the socket and yields events until the context ends.
func (b *SocketBridge) Watch(ctx context.Context) (<-chan Event, error) {
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("clear stale socket: %w", err)
	}
	listener, err := net.Listen("unix", b.path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", b.path, err)
	}
	b.listener = listener

	events := make(chan Event, 64)
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	go func() {
		defer close(events)
		b.acceptLoop(ctx, events)
	}()
	return events, nil
}

func (b *SocketBridge) acceptLoop(ctx context.Context, events chan<- Event) {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("self-chat bridge accept failed", "error", err)
			continue
		}
		b.mu.Lock()
		if b.conn != nil {
			b.conn.Close()
		}
		b.conn = conn
		b.mu.Unlock()
		slog.Info("self-chat bridge connected")

		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var ev Event
			if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
				slog.Warn("self-chat bridge sent bad event", "error", err)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		slog.Info("self-chat bridge disconnected")
	}
}

// SendMessage writes a send command to the connected bridge and returns
// the guid assigned to the outbound message.
func (b *SocketBridge) SendMessage(_ context.Context, to, body string) (string, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return "", fmt.Errorf("self-chat bridge not connected")
	}

	guid := uuid.Must(uuid.NewV7()).String()
	payload, err := json.Marshal(sendCommand{Type: "send", GUID: guid, To: to, Body: body})
	if err != nil {
		return "", err
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return "", fmt.Errorf("write to bridge: %w", err)
	}
	return guid, nil
}

func (b *SocketBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	if b.listener != nil {
		return b.listener.Close()
	}
	return nil
}
