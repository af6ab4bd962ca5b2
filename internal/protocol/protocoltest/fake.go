// Package protocoltest provides a scripted protocol.Factory for tests.
package protocoltest

import (
	"context"
	"sync"

	"github.com/openclaw/subbot-linker/internal/protocol"
)

var (
	_ protocol.Factory = (*Factory)(nil)
	_ protocol.Client  = (*Client)(nil)
)

// Factory records every client it creates. Configure, when set, runs on each
// new client before it is returned.
type Factory struct {
	mu        sync.Mutex
	clients   []*Client
	NewErr    error
	Configure func(*Client)
}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) NewClient(ctx context.Context, authMaterial []byte, handler protocol.Handler) (protocol.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	c := &Client{
		handler:   handler,
		auth:      append([]byte(nil), authMaterial...),
		keysReady: true,
		Code:      "ABCD1234",
		connected: make(chan struct{}),
	}
	if f.Configure != nil {
		f.Configure(c)
	}
	f.clients = append(f.clients, c)
	return c, nil
}

// Clients returns every client created so far.
func (f *Factory) Clients() []*Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Client(nil), f.clients...)
}

// Last returns the most recently created client or nil.
func (f *Factory) Last() *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

// Client is a controllable protocol.Client. Exported fields must be set
// before Connect is called.
type Client struct {
	// Code is returned by RequestPairingCode once PairingErrs are used up.
	Code                string
	CustomCodeSupported bool
	ConnectErr          error
	// PairingErrs are returned by successive RequestPairingCode calls.
	PairingErrs []error
	// OnPairing replaces the scripted pairing behavior when set.
	OnPairing func(ctx context.Context, attempt int) (string, error)

	handler   protocol.Handler
	emitMu    sync.Mutex
	mu        sync.Mutex
	auth      []byte
	keysReady bool
	connected chan struct{}

	pairingCalls int
	customCalls  int
	logoutCalls  int
	endCalls     int
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	err := c.ConnectErr
	if err == nil {
		select {
		case <-c.connected:
		default:
			close(c.connected)
		}
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.Emit(protocol.Update{Connection: protocol.ConnectionConnecting})
	return nil
}

// Connected is closed once Connect succeeded.
func (c *Client) Connected() <-chan struct{} {
	return c.connected
}

func (c *Client) SetKeysReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keysReady = ready
}

func (c *Client) KeysReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keysReady
}

func (c *Client) RequestPairingCode(ctx context.Context, phone, customCode, displayName string) (string, error) {
	c.mu.Lock()
	if customCode != "" {
		c.customCalls++
		if !c.CustomCodeSupported {
			c.mu.Unlock()
			return "", protocol.ErrCustomCodeUnsupported
		}
		c.pairingCalls++
		c.mu.Unlock()
		return customCode, nil
	}
	c.pairingCalls++
	attempt := c.pairingCalls
	hook := c.OnPairing
	var err error
	if len(c.PairingErrs) > 0 {
		err = c.PairingErrs[0]
		c.PairingErrs = c.PairingErrs[1:]
	}
	code := c.Code
	c.mu.Unlock()

	if hook != nil {
		return hook(ctx, attempt)
	}
	if err != nil {
		return "", err
	}
	return code, nil
}

func (c *Client) AuthMaterial() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.auth) == 0 {
		return nil
	}
	return append([]byte(nil), c.auth...)
}

func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.logoutCalls++
	c.auth = nil
	c.mu.Unlock()
	c.End()
	return nil
}

func (c *Client) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endCalls++
}

// Emit delivers u to the registered handler synchronously.
func (c *Client) Emit(u protocol.Update) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.handler(u)
}

// EmitQR simulates a fresh QR payload.
func (c *Client) EmitQR(payload string) {
	c.Emit(protocol.Update{QR: payload})
}

// Link simulates a completed link: credentials are stored, then the
// identity and an open connection are reported.
func (c *Client) Link(identity string) {
	c.mu.Lock()
	c.auth = []byte(identity)
	c.mu.Unlock()
	c.Emit(protocol.Update{LinkedIdentity: identity})
	c.Emit(protocol.Update{Connection: protocol.ConnectionOpen})
}

func (c *Client) Close(loggedOut bool, err error) {
	c.Emit(protocol.Update{Connection: protocol.ConnectionClose, LoggedOut: loggedOut, Err: err})
}

func (c *Client) PairingCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairingCalls
}

func (c *Client) CustomCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.customCalls
}

func (c *Client) LogoutCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logoutCalls
}

func (c *Client) EndCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endCalls
}
