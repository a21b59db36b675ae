// Package link holds the sender-side adapters that talk to the relay: the
// host link that publishes state, frames and chunked world transfers, the
// viewer link that consumes them, and the reconnection supervisor.
package link

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/Relay/internal/adapters/ws"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrTransferAborted    = errors.New("world transfer aborted")
	ErrTransferInProgress = errors.New("world transfer already in progress")
	ErrPaused             = errors.New("paused during world transfer")
	ErrNotConnected       = errors.New("not connected")
	ErrBacklogged         = errors.New("outbound backlog above high water")
	ErrGaveUp             = errors.New("reconnect attempts exhausted")
)

const DefaultHeartbeatInterval = 20 * time.Second

// Endpoint builds the relay websocket URL for role. An http(s) base is
// rewritten to ws(s). An empty code lets the relay pick one for a host.
func Endpoint(base string, role domain.Role, code domain.RoomCode) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/relay") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/relay"
	}
	q := u.Query()
	q.Set("role", role.String())
	if code != "" {
		q.Set("room", string(code))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dialer returns a DialFunc that opens a websocket to endpoint.
func Dialer(endpoint string, opts ws.Options) DialFunc {
	return func(ctx context.Context) (core.Transport, error) {
		conn, err := ws.Dial(ctx, endpoint, opts)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Link is what ServeLink drives: a host or viewer link.
type Link interface {
	ws.Handler
	Attach(t core.Transport)
}

type reader interface {
	ReadLoop(ctx context.Context, h ws.Handler) error
}

// ServeLink returns a ServeFunc that attaches l to each new connection,
// keeps a heartbeat going and reads until the connection ends.
func ServeLink(l Link, heartbeat time.Duration) ServeFunc {
	return func(ctx context.Context, t core.Transport) error {
		r, ok := t.(reader)
		if !ok {
			return fmt.Errorf("transport %T has no read loop", t)
		}
		l.Attach(t)
		hbCtx, stop := context.WithCancel(ctx)
		defer stop()
		go RunHeartbeat(hbCtx, t, heartbeat)
		return r.ReadLoop(ctx, l)
	}
}

// RunHeartbeat sends a heartbeat on t every interval so idle timeouts on
// proxies between us and the relay never fire. It stops with ctx or t.
func RunHeartbeat(ctx context.Context, t core.Transport, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	msg := protocol.MustEncode(protocol.NewHeartbeat())
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Done():
			return
		case <-ticker.C:
			if err := t.SendText(msg); err != nil {
				log.Debug().Err(err).Str("module", "link").Msg("heartbeat not sent")
			}
		}
	}
}

// sleep waits for d unless ctx ends or t closes first.
func sleep(ctx context.Context, t core.Transport, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Done():
		return ErrNotConnected
	case <-timer.C:
		return nil
	}
}
