// Package waclient implements protocol.Factory on top of whatsmeow. Device
// keys live in the whatsmeow sql store; the auth material handed back to the
// caller is the device JID that locates them.
package waclient

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/openclaw/subbot-linker/internal/protocol"
)

var (
	ErrQRTimeout    = errors.New("qr codes exhausted without scan")
	clientNameShape = regexp.MustCompile(`^.+ \(.+\)$`)
)

type Factory struct {
	container  *sqlstore.Container
	logger     waLog.Logger
	deviceName string
}

var _ protocol.Factory = (*Factory)(nil)

// NewFactory opens the device store. dialect is "postgres" or "sqlite3".
// deviceName is shown on the parent phone and must look like "Chrome (Linux)".
func NewFactory(ctx context.Context, dialect, address, deviceName string) (*Factory, error) {
	container, err := sqlstore.New(ctx, dialect, address, NewLogger("wastore"))
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}
	return &Factory{
		container:  container,
		logger:     NewLogger("whatsmeow"),
		deviceName: deviceName,
	}, nil
}

func (f *Factory) Close() error {
	return f.container.Close()
}

func (f *Factory) NewClient(ctx context.Context, authMaterial []byte, handler protocol.Handler) (protocol.Client, error) {
	var device *store.Device
	if len(authMaterial) > 0 {
		jid, err := types.ParseJID(string(authMaterial))
		if err != nil {
			return nil, fmt.Errorf("invalid auth material: %w", err)
		}
		device, err = f.container.GetDevice(ctx, jid)
		if err != nil {
			return nil, fmt.Errorf("failed to load device %s: %w", jid, err)
		}
		if device == nil {
			return nil, fmt.Errorf("device %s no longer stored: %w", jid, protocol.ErrRejected)
		}
	} else {
		device = f.container.NewDevice()
	}

	lifetime, cancel := context.WithCancel(context.Background())
	c := &client{
		cli:        whatsmeow.NewClient(device, f.logger.Sub("client")),
		handler:    handler,
		deviceName: f.deviceName,
		lifetime:   lifetime,
		cancel:     cancel,
	}
	c.cli.AddEventHandler(c.handleEvent)
	return c, nil
}

type client struct {
	cli        *whatsmeow.Client
	handler    protocol.Handler
	deviceName string

	emitMu    sync.Mutex
	keysReady atomic.Bool
	ended     atomic.Bool
	lifetime  context.Context
	cancel    context.CancelFunc
}

func (c *client) emit(u protocol.Update) {
	if c.ended.Load() {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.handler(u)
}

func (c *client) Connect(ctx context.Context) error {
	if c.cli.Store.ID == nil {
		// Must be requested before Connect or the first code is missed.
		qrChan, err := c.cli.GetQRChannel(c.lifetime)
		if err != nil {
			return fmt.Errorf("failed to open qr channel: %w", err)
		}
		go c.watchQR(qrChan)
	} else {
		c.keysReady.Store(true)
	}

	c.emit(protocol.Update{Connection: protocol.ConnectionConnecting})
	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (c *client) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.keysReady.Store(true)
			c.emit(protocol.Update{QR: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			// PairSuccess arrives through the event handler.
		case whatsmeow.QRChannelTimeout.Event:
			c.emit(protocol.Update{Connection: protocol.ConnectionClose, Err: ErrQRTimeout})
		case whatsmeow.QRChannelEventError:
			c.emit(protocol.Update{Connection: protocol.ConnectionClose, Err: item.Error})
		default:
			c.emit(protocol.Update{Err: fmt.Errorf("%w: %s", protocol.ErrRejected, item.Event)})
		}
	}
}

func (c *client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		c.emit(protocol.Update{LinkedIdentity: v.ID.String()})
	case *events.PairError:
		c.emit(protocol.Update{Err: fmt.Errorf("pairing failed: %w", v.Error)})
	case *events.Connected:
		c.emit(protocol.Update{Connection: protocol.ConnectionOpen})
	case *events.Disconnected:
		c.emit(protocol.Update{Connection: protocol.ConnectionClose})
	case *events.LoggedOut:
		c.emit(protocol.Update{
			Connection: protocol.ConnectionClose,
			LoggedOut:  true,
			Err:        fmt.Errorf("%w: logged out (%s)", protocol.ErrRejected, v.Reason.String()),
		})
	case *events.StreamReplaced:
		c.emit(protocol.Update{
			Connection: protocol.ConnectionClose,
			Err:        errors.New("stream replaced by another connection"),
		})
	case *events.TemporaryBan:
		c.emit(protocol.Update{
			Connection: protocol.ConnectionClose,
			LoggedOut:  true,
			Err:        fmt.Errorf("%w: %s", protocol.ErrRejected, v.String()),
		})
	case *events.ConnectFailure:
		c.emit(protocol.Update{
			Connection: protocol.ConnectionClose,
			Err:        fmt.Errorf("connect failure: %s", v.Reason.String()),
		})
	}
}

func (c *client) KeysReady() bool {
	return c.keysReady.Load() && c.cli.IsConnected()
}

func (c *client) RequestPairingCode(ctx context.Context, phone, customCode, displayName string) (string, error) {
	if customCode != "" {
		return "", protocol.ErrCustomCodeUnsupported
	}
	if !c.cli.IsConnected() {
		return "", protocol.ErrNotConnected
	}
	name := c.deviceName
	if clientNameShape.MatchString(displayName) {
		name = displayName
	}

	code, err := c.cli.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, name)
	if err != nil {
		if errors.Is(err, whatsmeow.ErrPhoneNumberTooShort) || errors.Is(err, whatsmeow.ErrPhoneNumberIsNotInternational) {
			return "", fmt.Errorf("%w: %v", protocol.ErrRejected, err)
		}
		return "", err
	}
	return code, nil
}

func (c *client) AuthMaterial() []byte {
	if c.cli.Store.ID == nil {
		return nil
	}
	return []byte(c.cli.Store.ID.String())
}

func (c *client) Logout(ctx context.Context) error {
	defer c.End()
	if !c.cli.IsLoggedIn() {
		if c.cli.Store.ID == nil {
			return nil
		}
		return c.cli.Store.Delete(ctx)
	}
	if err := c.cli.Logout(ctx); err != nil {
		log.Warn().Err(err).Msg("remote logout failed, deleting local device")
		return c.cli.Store.Delete(ctx)
	}
	return nil
}

func (c *client) End() {
	if c.ended.Swap(true) {
		return
	}
	c.cancel()
	c.cli.Disconnect()
}
