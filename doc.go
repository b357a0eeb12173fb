// Package rtnet provides low-allocation, asynchronous message delivery over
// TCP for real-time applications, plus the engines built on top of it.
//
// Features:
//   - Message framing: every message is a 4-byte little-endian body length
//     followed by the body. A Reassembler turns arbitrarily split or
//     coalesced stream reads back into whole bodies.
//   - Message bodies: a 2-byte type (System or Custom); system messages carry
//     a 2-byte sub-protocol. The server assigns each client its id with
//     ProtocolAssignClientID.
//   - Connection: one receive goroutine and an ordered send queue drained by
//     at most one writer, tolerant of partial writes.
//   - Pooling: OpContextPool recycles per-operation contexts, GetBuffer and
//     PutBuffer recycle receive buffers and send chunks.
//   - Client: NewClient dials a server, adopts the assigned id, and delivers
//     custom payloads to a Handler.
//
// The server engine lives in package server and UDP discovery with role
// election in package discovery.
//
// Basic Client Example:
//
//	handler := rtnet.HandlerFunc(func(c *rtnet.Connection, payload []byte) {
//	    // payload is only valid during the call
//	})
//	cl, err := rtnet.NewClient(rtnet.ClientConfig{Address: "localhost:9000"}, handler)
//	if err != nil {
//	    // handle error
//	}
//	if err := cl.Connect(ctx); err != nil {
//	    // handle error
//	}
//	defer cl.Close()
//	_ = cl.Send([]byte("hello"))
//
// Basic Server Example:
//
//	srv, err := server.New(server.ServerConfig{Address: ":9000"}, handler)
//	if err != nil {
//	    // handle error
//	}
//	if err := srv.Start(); err != nil {
//	    // handle error
//	}
//	defer srv.Close()
//	_ = srv.Broadcast([]byte("tick"))
package rtnet
