package server

import (
	"log/slog"

	"github.com/beltheas/scrollback/mirror"
	"github.com/beltheas/scrollback/notify"
	"github.com/beltheas/scrollback/store"
)

// Handlers bundles the HTTP handler dependencies: the store for health
// checks, the sync registry for channel reads, and the hub for the event
// stream.
type Handlers struct {
	st  store.Store
	reg *mirror.Registry
	hub *notify.Hub
	log *slog.Logger
}

// NewHandlers creates handlers backed by the given collaborators.
func NewHandlers(st store.Store, reg *mirror.Registry, hub *notify.Hub) *Handlers {
	return &Handlers{
		st:  st,
		reg: reg,
		hub: hub,
		log: slog.Default().With(slog.String("component", "http")),
	}
}
