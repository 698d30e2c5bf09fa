package main

import (
	"context"
	"net"
	"testing"

	"github.com/GyroTools/mainzelhandler-connector-go/internals/callback"
	"github.com/GyroTools/mainzelhandler-connector-go/internals/mainzelliste"
	"github.com/GyroTools/mainzelhandler-connector-go/internals/server"
	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"
)

func newTestServer() *server.Server {
	conn := mainzelliste.NewConnection("http://127.0.0.1:1", "secret", "3.0", zerolog.Nop())
	return server.New(
		&server.SessionIssuer{Conn: conn},
		server.NewMemoryRepository(),
		callback.NewManager(callback.NewMemoryStore(), 0, zerolog.Nop()),
		server.Options{},
		zerolog.Nop(),
	)
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, srv, "127.0.0.1:0", zerolog.Nop())
	}()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if srv.Echo.ListenerAddr() == nil {
			return poll.Continue("server is not listening yet")
		}
		return poll.Success()
	})

	cancel()
	assert.NilError(t, <-done)
}

func TestServeReturnsStartError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer l.Close()

	err = serve(context.Background(), newTestServer(), l.Addr().String(), zerolog.Nop())
	assert.ErrorContains(t, err, "server error")
}
