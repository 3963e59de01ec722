// Package router wires plugins into the gRPC and HTTP servers.
package router

import (
	"fmt"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc"

	"github.com/joshp123/thermosync/internal/core"
)

// RegisterPlugins registers plugin services and core services on the gRPC server.
func RegisterPlugins(server *grpc.Server, plugins []core.Plugin) error {
	if err := core.NewRegistryService(plugins).Service().Register(server); err != nil {
		return err
	}

	for _, p := range plugins {
		if err := p.RegisterGRPC(server); err != nil {
			return fmt.Errorf("register %s: %w", p.ID(), err)
		}
	}
	return nil
}

// RegisterHTTP mounts every plugin that exposes HTTP handlers.
func RegisterHTTP(r chi.Router, plugins []core.Plugin) {
	for _, p := range plugins {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(r)
		}
	}
}
