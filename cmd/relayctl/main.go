package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"github.com/urfave/cli/v3"

	"github.com/dkeye/Relay/internal/adapters/ws"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/link"
	"github.com/dkeye/Relay/internal/protocol"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cmd := &cli.Command{
		Name:  "relayctl",
		Usage: "connect to a relay as a host or a viewer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "relay", Value: "http://localhost:9000", Usage: "relay base URL", Sources: cli.EnvVars("RELAY_URL")},
			&cli.StringFlag{Name: "room", Usage: "room code"},
			&cli.DurationFlag{Name: "heartbeat", Value: link.DefaultHeartbeatInterval, Usage: "application heartbeat interval"},
			&cli.BoolFlag{Name: "debug", Usage: "debug logging"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if cmd.Bool("debug") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "host",
				Usage: "open a room and publish a synthetic state stream",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "state-every", Value: 100 * time.Millisecond, Usage: "state push interval"},
					&cli.StringFlag{Name: "world", Usage: "JSON file sent to viewers on request_world_sync"},
					&cli.StringFlag{Name: "public-url", Usage: "viewer page URL printed as a QR code"},
				},
				Action: runHost,
			},
			{
				Name:  "viewer",
				Usage: "join a room and print what the host publishes",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "request-world", Usage: "ask the host for the world after joining"},
					&cli.DurationFlag{Name: "orientation-every", Value: time.Second, Usage: "orientation send interval, 0 disables"},
					&cli.IntFlag{Name: "max-world", Value: 512 << 20, Usage: "largest world transfer accepted, in bytes"},
				},
				Action: runViewer,
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("relayctl failed")
		os.Exit(1)
	}
}

func runHost(ctx context.Context, cmd *cli.Command) error {
	var world json.RawMessage
	if path := cmd.String("world"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !json.Valid(raw) {
			return fmt.Errorf("%s: %w", path, protocol.ErrMalformed)
		}
		world = raw
	}

	code, err := roomFlag(cmd, false)
	if err != nil {
		return err
	}
	endpoint, err := link.Endpoint(cmd.String("relay"), domain.RoleHost, code)
	if err != nil {
		return err
	}

	var host *link.HostLink
	host = link.NewHostLink(link.DefaultHostConfig(), link.HostEvents{
		OnRoomCreated: func(c domain.RoomCode) {
			fmt.Printf("room %s\n", c)
			if base := cmd.String("public-url"); base != "" {
				printQR(base + "/?room=" + string(c))
			}
		},
		OnPlayerJoined: func(id domain.PlayerID, total int) {
			log.Info().Str("module", "relayctl").Str("player", string(id)).Int("total", total).Msg("viewer joined")
		},
		OnPlayerLeft: func(id domain.PlayerID, total int) {
			log.Info().Str("module", "relayctl").Str("player", string(id)).Int("total", total).Msg("viewer left")
		},
		OnWorldSyncRequest: func(id domain.PlayerID) {
			if world == nil {
				return
			}
			go func() {
				if err := host.SendWorldSync(ctx, world); err != nil && !errors.Is(err, link.ErrTransferInProgress) {
					log.Warn().Str("module", "relayctl").Err(err).Msg("world sync failed")
				}
			}()
		},
		OnViewerMessage: func(typ string, from domain.PlayerID, data []byte) {
			log.Debug().Str("module", "relayctl").Str("type", typ).Str("player", string(from)).RawJSON("msg", data).Msg("viewer message")
		},
	})

	sup := link.HostSupervisor(host, link.Dialer(endpoint, ws.Options{}), cmd.Duration("heartbeat"))

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go pushStates(ctx, host, cmd.Duration("state-every"))
	return sup.Run(ctx)
}

// pushStates circles the host around the origin.
func pushStates(ctx context.Context, host *link.HostLink, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	began := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		a := time.Since(began).Seconds()
		err := host.PushState(protocol.StatePayload{
			Mode: "orbit",
			Pos:  protocol.Vec3{X: 10 * math.Cos(a), Y: 2, Z: 10 * math.Sin(a)},
			Quat: protocol.Quat{Y: math.Sin(a / 2), W: math.Cos(a / 2)},
		})
		if err != nil && !errors.Is(err, link.ErrPaused) && !errors.Is(err, link.ErrNotConnected) {
			log.Debug().Str("module", "relayctl").Err(err).Msg("state not sent")
		}
	}
}

func runViewer(ctx context.Context, cmd *cli.Command) error {
	code, err := roomFlag(cmd, true)
	if err != nil {
		return err
	}
	endpoint, err := link.Endpoint(cmd.String("relay"), domain.RoleViewer, code)
	if err != nil {
		return err
	}

	var viewer *link.ViewerLink
	viewer = link.NewViewerLink(int(cmd.Int("max-world")), link.ViewerEvents{
		OnJoined: func(c domain.RoomCode, id domain.PlayerID) {
			fmt.Printf("joined %s as %s\n", c, id)
			if cmd.Bool("request-world") {
				_ = viewer.RequestWorldSync()
			}
		},
		OnState: func(p protocol.StatePayload) {
			log.Debug().Str("module", "relayctl").Str("mode", p.Mode).
				Float64("x", p.Pos.X).Float64("y", p.Pos.Y).Float64("z", p.Pos.Z).Msg("state")
		},
		OnFrame: func(f core.Frame) {
			log.Debug().Str("module", "relayctl").Int("bytes", len(f)).Msg("frame")
		},
		OnWorldSync: func(w json.RawMessage) {
			fmt.Printf("world received, %d bytes\n", len(w))
		},
		OnHostDisconnected: func() {
			fmt.Println("host disconnected")
		},
	})

	sup := &link.Supervisor{
		Policy: link.ViewerPolicy(),
		Dial:   link.Dialer(endpoint, ws.Options{}),
		Serve:  link.ServeLink(viewer, cmd.Duration("heartbeat")),
		OnState: func(s link.State) {
			log.Debug().Str("module", "relayctl").Str("state", s.String()).Msg("link state")
		},
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	if every := cmd.Duration("orientation-every"); every > 0 {
		go func() {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					_ = viewer.SendOrientation(protocol.OrientationPayload{Yaw: float64(time.Now().Unix() % 360)})
				}
			}
		}()
	}
	return sup.Run(ctx)
}

func roomFlag(cmd *cli.Command, required bool) (domain.RoomCode, error) {
	raw := cmd.String("room")
	if raw == "" && !required {
		return "", nil
	}
	return domain.ParseRoomCode(raw)
}

func printQR(url string) {
	q, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		log.Warn().Str("module", "relayctl").Err(err).Msg("qr code")
		return
	}
	fmt.Println(q.ToSmallString(false))
	fmt.Println(url)
}
