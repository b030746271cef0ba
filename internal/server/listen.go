package server

import (
	"context"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/taskpar/tpar/internal/rpc"
)

// Serve accepts connections on ln, binding every RPC handler to each one,
// until ctx is done. It never returns a non-nil error except from the
// listener itself or ctx's cancellation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		g.Go(func() error {
			s.serveConn(nc)
			return nil
		})
	}

	return g.Wait()
}

func (s *Server) serveConn(nc net.Conn) {
	conn := rpc.NewConn(nc)
	s.BindHandlers(conn)
	<-conn.Done()
}
