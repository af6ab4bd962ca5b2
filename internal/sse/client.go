// Package sse adapts broadcaster subscriptions to server-sent event streams.
package sse

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/openclaw/subbot-linker/internal/events"
	"github.com/openclaw/subbot-linker/internal/model"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBuffer      = 100
)

var errClientGone = errors.New("sse client gone")

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client receives the events of one session. Done is closed once the session
// is released; events queued before that stay readable on Events.
type Client struct {
	SessionID string
	Events    chan Event

	sub    *events.Subscription
	closed chan struct{}
	once   sync.Once
}

func Subscribe(b *events.Broadcaster, sessionID string) *Client {
	c := &Client{
		SessionID: sessionID,
		Events:    make(chan Event, clientBuffer),
		closed:    make(chan struct{}),
	}
	c.sub = b.Subscribe(sessionID, c.push)
	return c
}

// push blocks the session's delivery worker while the buffer is full, so a
// slow reader delays its own stream without reordering it.
func (c *Client) push(e model.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	select {
	case c.Events <- Event{Type: string(e.Type), Data: data}:
		return nil
	case <-c.closed:
		return errClientGone
	}
}

func (c *Client) Done() <-chan struct{} {
	return c.sub.Done()
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		c.sub.Unsubscribe()
	})
}
