package http

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerShutdown_CancelsInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	finished := make(chan struct{})
	var handlerErr error
	srv := NewServer("127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(finished)
		close(entered)
		<-r.Context().Done()
		handlerErr = r.Context().Err()
	}), time.Minute)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(lis) }()

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		resp, err := http.Get("http://" + lis.Addr().String() + "/generate-talking-head")
		if err == nil {
			_ = resp.Body.Close()
		}
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = srv.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-finished:
	default:
		t.Fatal("handler still running after Shutdown returned")
	}
	assert.ErrorIs(t, handlerErr, context.Canceled)
	assert.ErrorIs(t, <-serveErr, http.ErrServerClosed)

	_ = srv.Close()
	<-clientDone
}

func TestServerShutdown_IdleReturnsNil(t *testing.T) {
	srv := NewServer("127.0.0.1:0", http.NotFoundHandler(), time.Minute)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(lis) }()

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.ErrorIs(t, <-serveErr, http.ErrServerClosed)
}
