package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all attachment routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/attachments", func(r chi.Router) {
		r.Route("/mappings", func(r chi.Router) {
			r.Get("/", h.HandleGetMappings)             // Three maps + readiness
			r.Post("/refetch", h.HandleRefetchMappings) // Trade then position mapping refetch
			r.Put("/orders", h.HandleSaveOrderMappings) // Replace a position's orders
		})

		r.Post("/key", h.HandlePositionKey)             // Composite key of a position
		r.Post("/trades", h.HandleAttachedTrades)       // Attached trades
		r.Post("/orders", h.HandleAttachedOrders)       // Attached orders
		r.Post("/positions", h.HandleAttachedPositions) // Attached sibling positions

		r.Route("/symbols/{root}", func(r chi.Router) {
			r.Get("/trades", h.HandleSymbolTrades) // Trade universe of a root
			r.Get("/orders", h.HandleSymbolOrders) // Orders of an account on a root
		})

		r.Route("/expansion", func(r chi.Router) {
			r.Get("/", h.HandleGetExpansion)
			r.Post("/toggle", h.HandleToggleExpansion)
			r.Post("/processing", h.HandleMarkProcessing)
		})
	})
}
