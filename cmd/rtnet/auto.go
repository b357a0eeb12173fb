package main

import (
	"fmt"
	"io"
	"net"

	"github.com/andrei-cloud/rtnet"
	"github.com/andrei-cloud/rtnet/discovery"
	"github.com/spf13/cobra"
)

var autoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Join a server found on the LAN, or become one",
	Long: `auto listens for a server announcement for discovery.timeout. If one
arrives it connects to that host on the server port and behaves like
"connect". Otherwise it starts serving like "serve" and announces itself
until shut down.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		_, port, err := net.SplitHostPort(cfg.Server.Address)
		if err != nil {
			return fmt.Errorf("server address %q: %w", cfg.Server.Address, err)
		}

		self, err := discovery.LocalAnnouncement()
		if err != nil {
			return err
		}

		pool := rtnet.NewOpContextPool()
		dcfg := cfg.discoveryConfig(netLogger("discovery"), pool)
		res, err := discovery.Elect(ctx, dcfg, self)
		if err != nil {
			return err
		}

		logger.Info().Stringer("role", res.Role).Msg("elected")

		if res.Role == discovery.RoleServer {
			return runServer(ctx, pool, []io.Closer{res.Broadcaster})
		}

		var handoff []io.Closer
		if w, err := watchOtherServers(dcfg, res.Peer); err != nil {
			logger.Warn().Err(err).Msg("cannot watch for other servers")
		} else {
			handoff = append(handoff, w)
		}

		addr := net.JoinHostPort(res.Peer.Addr, port)
		return runClient(ctx, pool, addr, cmd.InOrStdin(), cmd.OutOrStdout(), handoff...)
	},
}

// watchOtherServers keeps the discovery port open while connected to peer
// and warns once if a different host announces itself as a server.
func watchOtherServers(dcfg discovery.Config, peer discovery.Announcement) (*discovery.Listener, error) {
	l := discovery.NewListener(dcfg)
	l.SetFilter(func(p []byte) bool {
		ann, err := discovery.ParseAnnouncement(p)
		return err == nil && ann.Addr != peer.Addr
	})
	l.Subscribe(discovery.ListenerEventFuncs{
		OnReceived: func(_ *discovery.Listener, p []byte, from net.Addr) {
			ann, _ := discovery.ParseAnnouncement(p)
			logger.Warn().
				Str("host", ann.Hostname).
				Str("addr", ann.Addr).
				Stringer("from", from).
				Str("connected_to", peer.Addr).
				Msg("another server is announcing on this network")
		},
	})

	if err := l.Start(0); err != nil {
		return nil, err
	}

	return l, nil
}
