package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/andrei-cloud/rtnet"
	"github.com/spf13/cobra"
)

var connectAddr string

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a server, send stdin lines and print replies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if connectAddr != "" {
			cfg.Client.Address = connectAddr
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		return runClient(ctx, nil, cfg.Client.Address, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	connectCmd.Flags().StringVarP(&connectAddr, "addr", "a", "", "server address (overrides client.address)")
}

// runClient connects to addr, sends each line read from in as a custom
// message and writes every received payload to out. It returns when ctx is
// done or the server hangs up, even while in is still open. Every closer in
// handoff is closed together with the client.
func runClient(ctx context.Context, pool *rtnet.OpContextPool, addr string, in io.Reader, out io.Writer, handoff ...io.Closer) error {
	ccfg := cfg.clientConfig(netLogger("client"), pool)
	ccfg.Address = addr

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	replies := make(chan []byte, 16)
	cl, err := rtnet.NewClient(ccfg, rtnet.HandlerFunc(func(_ *rtnet.Connection, payload []byte) {
		select {
		case replies <- append([]byte(nil), payload...):
		case <-ctx.Done():
		}
	}))
	if err != nil {
		return err
	}

	for _, h := range handoff {
		cl.AttachHandoff(h)
	}

	closed := make(chan error, 1)
	cl.Subscribe(rtnet.ClientListenerFuncs{
		OnIDAssigned: func(_ *rtnet.Client, id uint32) {
			logger.Info().Uint32("id", id).Msg("assigned client id")
		},
		OnClosed: func(_ *rtnet.Client, cause error) {
			closed <- cause
		},
	})

	if err := cl.Connect(ctx); err != nil {
		_ = cl.Close()
		return err
	}
	logger.Info().Str("addr", addr).Msg("connected")

	// readLines may outlive runClient while blocked in in.Read; it exits on
	// its next line or at EOF.
	input := make(chan string)
	inputErr := make(chan error, 1)
	go readLines(ctx, in, input, inputErr)

	for {
		select {
		case <-ctx.Done():
			return cl.Close()

		case cause := <-closed:
			_ = cl.Close()
			if cause != nil {
				return cause
			}
			logger.Info().Msg("server closed the connection")
			return nil

		case p := <-replies:
			fmt.Fprintf(out, "%s\n", p)

		case line, ok := <-input:
			if !ok {
				input = nil
				if err := <-inputErr; err != nil {
					_ = cl.Close()
					return fmt.Errorf("read input: %w", err)
				}
				continue
			}
			if err := cl.Send([]byte(line)); err != nil {
				_ = cl.Close()
				return err
			}
		}
	}
}

// readLines sends every line of in to lines until EOF or ctx is done, then
// reports the scan error and closes lines.
func readLines(ctx context.Context, in io.Reader, lines chan<- string, errc chan<- error) {
	defer close(lines)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			errc <- nil
			return
		}
	}
	errc <- scanner.Err()
}
