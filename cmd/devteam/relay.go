package main

import (
	"sync"

	"github.com/HendryAvila/devteam/internal/hub"
)

// lateHub forwards events to a hub attached after the team leader starts.
// Events published before then are dropped.
type lateHub struct {
	mu  sync.RWMutex
	hub *hub.Hub
}

func (r *lateHub) set(h *hub.Hub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hub = h
}

// Publish implements teamleader.Publisher.
func (r *lateHub) Publish(eventType string, data any) {
	r.mu.RLock()
	h := r.hub
	r.mu.RUnlock()
	if h != nil {
		h.Publish(eventType, data)
	}
}
