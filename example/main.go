// Package main starts a server that reverses every message and a few
// clients that talk to it concurrently.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andrei-cloud/rtnet"
	"github.com/andrei-cloud/rtnet/server"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}).
	With().Timestamp().Logger()

// startServer initializes and starts the reversing server.
func startServer(addr string, pool *rtnet.OpContextPool) (*server.Server, error) {
	var srv *server.Server

	handler := rtnet.HandlerFunc(func(c *rtnet.Connection, req []byte) {
		// reverse request data.
		out := make([]byte, len(req))
		for i := range req {
			out[len(req)-1-i] = req[i]
		}

		if err := srv.Send(c, out); err != nil {
			log.Warn().Err(err).Uint32("client", c.ID()).Msg("reply failed")
		}
	})

	srv, err := server.New(server.ServerConfig{
		Address: addr,
		Logger:  rtnet.NewZerologLogger(log.With().Str("side", "server").Logger()),
		Pool:    pool,
	}, handler)
	if err != nil {
		return nil, fmt.Errorf("server setup failed: %w", err)
	}

	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return srv, nil
}

// runClient connects, sends every request and waits for as many replies.
func runClient(ctx context.Context, addr string, pool *rtnet.OpContextPool, requests []string) error {
	replies := make(chan string, len(requests))

	cl, err := rtnet.NewClient(rtnet.ClientConfig{
		Address: addr,
		Pool:    pool,
	}, rtnet.HandlerFunc(func(_ *rtnet.Connection, payload []byte) {
		replies <- string(payload)
	}))
	if err != nil {
		return err
	}
	defer cl.Close()

	assigned := make(chan uint32, 1)
	cl.Subscribe(rtnet.ClientListenerFuncs{
		OnIDAssigned: func(_ *rtnet.Client, id uint32) { assigned <- id },
	})

	if err := cl.Connect(ctx); err != nil {
		return err
	}

	var id uint32
	select {
	case id = <-assigned:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, r := range requests {
		log.Info().Uint32("client", id).Str("request", r).Msg("sending")
		if err := cl.Send([]byte(r)); err != nil {
			return err
		}
	}

	for range requests {
		select {
		case r := <-replies:
			log.Info().Uint32("client", id).Str("reply", r).Msg("received")
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func main() {
	addr := "localhost:3000"
	pool := rtnet.NewOpContextPool()

	srv, err := startServer(addr, pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := srv.Close(); err != nil {
			log.Error().Err(err).Msg("error stopping server")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, reqs := range [][]string{
		{"hello", "world"},
		{"rtnet test", "concurrent"},
		{"request"},
	} {
		g.Go(func() error { return runClient(gctx, addr, pool, reqs) })
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("client failed")
	}

	m := srv.Metrics().Snapshot()
	log.Info().Int64("messages_in", m.MessagesIn).Int64("messages_out", m.MessagesOut).
		Uint64("contexts_created", pool.Created()).Msg("done")
}
