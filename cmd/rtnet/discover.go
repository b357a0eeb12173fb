package main

import (
	"fmt"
	"net"
	"time"

	"github.com/andrei-cloud/rtnet/discovery"
	"github.com/spf13/cobra"
)

var (
	discoverAnnounce bool
	discoverTimeout  time.Duration
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Listen for a server announcement, or announce this host",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		dcfg := cfg.discoveryConfig(netLogger("discovery"), nil)

		if discoverAnnounce {
			ann, err := discovery.LocalAnnouncement()
			if err != nil {
				return err
			}
			b, err := discovery.NewBroadcaster(dcfg, ann)
			if err != nil {
				return err
			}
			if err := b.Start(dcfg.Interval); err != nil {
				return err
			}
			logger.Info().Stringer("announcement", ann).Msg("announcing")
			<-ctx.Done()
			return b.Close()
		}

		timeout := discoverTimeout
		if timeout == 0 {
			timeout = cfg.Discovery.Timeout
		}

		type found struct {
			ann  discovery.Announcement
			from net.Addr
		}
		result := make(chan found, 1)
		stopped := make(chan struct{})

		l := discovery.NewListener(dcfg)
		l.SetFilter(func(p []byte) bool {
			_, err := discovery.ParseAnnouncement(p)
			return err == nil
		})
		l.Subscribe(discovery.ListenerEventFuncs{
			OnReceived: func(_ *discovery.Listener, p []byte, from net.Addr) {
				ann, _ := discovery.ParseAnnouncement(p)
				result <- found{ann: ann, from: from}
			},
			OnStopped: func(*discovery.Listener) { close(stopped) },
		})

		if err := l.Start(timeout); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-stopped:
		}

		select {
		case f := <-result:
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (from %s)\n", f.ann.Hostname, f.ann.Addr, f.from)
			return nil
		default:
			fmt.Fprintln(cmd.OutOrStdout(), "no server found")
			return nil
		}
	},
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverAnnounce, "announce", false, "broadcast this host instead of listening")
	discoverCmd.Flags().DurationVarP(&discoverTimeout, "timeout", "t", 0, "how long to listen (overrides discovery.timeout)")
}
