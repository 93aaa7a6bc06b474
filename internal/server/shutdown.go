package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// waitForShutdown returns a channel that is closed on an interrupt or
// terminate signal.
func waitForShutdown() <-chan struct{} {
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		signal.Stop(quit)
		close(done)
	}()
	return done
}

// Shutdown closes live connections, stops accepting requests and stops
// consuming room events.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down server")
	s.Bridge.Shutdown()
	err := s.E.Shutdown(ctx)
	s.stop()
	return err
}
