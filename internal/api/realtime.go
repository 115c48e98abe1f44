package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/maneesh/qrshare/internal/models"
)

// Watcher receives change events of one table over a websocket
type Watcher struct {
	conn   *websocket.Conn
	events chan models.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (c *Client) realtimeURL(table, deviceID string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/" + url.PathEscape(table)
	if deviceID != "" {
		u.RawQuery = url.Values{"device_id": {deviceID}}.Encode()
	}
	return u.String(), nil
}

// Watch opens a change stream of table filtered on deviceID. The stream is
// live once Watch returns; it ends when ctx is cancelled or Close is called.
func (c *Client) Watch(ctx context.Context, table, deviceID string) (*Watcher, error) {
	wsURL, err := c.realtimeURL(table, deviceID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, readAPIError(resp)
		}
		return nil, fmt.Errorf("failed to open realtime stream: %w", err)
	}

	w := &Watcher{
		conn:   conn,
		events: make(chan models.ChangeEvent, 16),
		done:   make(chan struct{}),
	}
	go w.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			w.Close()
		case <-w.done:
		}
	}()
	return w, nil
}

func (w *Watcher) readLoop() {
	defer close(w.events)
	for {
		var ev models.ChangeEvent
		if err := w.conn.ReadJSON(&ev); err != nil {
			return
		}
		select {
		case w.events <- ev:
		case <-w.done:
			return
		}
	}
}

// Events yields change events; it is closed when the stream ends
func (w *Watcher) Events() <-chan models.ChangeEvent {
	return w.events
}

// Close ends the stream. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = w.conn.Close()
	})
	return err
}

// Follow calls refresh after every change event of table concerning
// deviceID, one call at a time. The returned stop func closes the stream
// and waits until no refresh is running.
func (c *Client) Follow(ctx context.Context, table, deviceID string, refresh func(context.Context)) (stop func(), err error) {
	ctx, cancel := context.WithCancel(ctx)
	w, err := c.Watch(ctx, table, deviceID)
	if err != nil {
		cancel()
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range w.Events() {
			if ctx.Err() != nil {
				return
			}
			refresh(ctx)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			w.Close()
			wg.Wait()
		})
	}, nil
}
