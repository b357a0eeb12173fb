package main

import (
	"context"
	"io"
	"time"

	"github.com/andrei-cloud/rtnet"
	"github.com/andrei-cloud/rtnet/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveAddr  string
	serveRelay bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a server that echoes or relays custom messages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if serveAddr != "" {
			cfg.Server.Address = serveAddr
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		return runServer(ctx, rtnet.NewOpContextPool(), nil)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "listen address (overrides server.address)")
	serveCmd.Flags().BoolVar(&serveRelay, "relay", false, "send every message to all clients instead of echoing it")
}

// newServer builds a server whose handler echoes each custom payload back
// to its sender, or relays it to every client when relay is set.
func newServer(pool *rtnet.OpContextPool, relay bool) (*server.Server, error) {
	var srv *server.Server

	handler := rtnet.HandlerFunc(func(c *rtnet.Connection, payload []byte) {
		var err error
		if relay {
			err = srv.Broadcast(payload)
		} else {
			err = srv.Send(c, payload)
		}
		if err != nil {
			logger.Warn().Err(err).Uint32("client", c.ID()).Msg("forward failed")
		}
	})

	srv, err := server.New(cfg.serverConfig(netLogger("server"), pool), handler)
	if err != nil {
		return nil, err
	}

	srv.Subscribe(server.ListenerFuncs{
		OnAccepted: func(_ *server.Server, c *rtnet.Connection) {
			logger.Info().Uint32("client", c.ID()).Stringer("remote", c.RemoteAddr()).Msg("client joined")
		},
		OnRemoved: func(_ *server.Server, c *rtnet.Connection, cause error) {
			ev := logger.Info().Uint32("client", c.ID())
			if cause != nil {
				ev = ev.AnErr("cause", cause)
			}
			ev.Msg("client left")
		},
	})

	return srv, nil
}

// runServer serves until ctx is done, then closes the server and every
// closer in extra.
func runServer(ctx context.Context, pool *rtnet.OpContextPool, extra []io.Closer) error {
	srv, err := newServer(pool, serveRelay)
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info().Stringer("addr", srv.Addr()).Msg("serving")

	g, gctx := errgroup.WithContext(ctx)

	if every := cfg.Server.StatsInterval; every > 0 {
		g.Go(func() error {
			logStats(gctx, srv, every)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		for _, c := range extra {
			_ = c.Close()
		}
		return srv.Close()
	})

	return g.Wait()
}

func logStats(ctx context.Context, srv *server.Server, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := srv.Metrics().Snapshot()
			logger.Info().
				Int("active", m.Active).
				Int64("accepted", m.Accepted).
				Int64("messages_in", m.MessagesIn).
				Int64("messages_out", m.MessagesOut).
				Int64("bytes_in", m.BytesIn).
				Int64("bytes_out", m.BytesOut).
				Int("pool_idle", srv.Pool().Idle()).
				Msg("stats")
		}
	}
}
