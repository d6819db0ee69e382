// Package meta exposes read-only installation metadata, such as the applied
// seed data version, over HTTP.
package meta

import (
	"errors"
	"net/http"

	"github.com/HerbHall/phonebook/internal/server"
	"github.com/HerbHall/phonebook/internal/services"
	"go.uber.org/zap"
)

// Handler serves the metadata endpoints.
type Handler struct {
	repo   services.MetaRepository
	logger *zap.Logger
}

// NewHandler creates a metadata Handler.
func NewHandler(repo services.MetaRepository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// RegisterRoutes registers the metadata routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/meta", h.handleList)
	mux.HandleFunc("GET /api/v1/meta/{key}", h.handleGet)
}

// handleList returns every metadata entry ordered by key.
//
//	@Summary		List installation metadata
//	@Tags			meta
//	@Produce		json
//	@Success		200	{object}	server.Envelope{data=[]services.MetaEntry}
//	@Failure		500	{object}	server.Envelope
//	@Router			/meta [get]
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.repo.All(r.Context())
	if err != nil {
		h.logger.Error("failed to list metadata", zap.Error(err))
		server.InternalError(w, "failed to list metadata")
		return
	}
	if entries == nil {
		entries = []services.MetaEntry{}
	}
	server.WriteData(w, http.StatusOK, "", entries)
}

// handleGet returns one metadata entry.
//
//	@Summary		Get installation metadata entry
//	@Tags			meta
//	@Produce		json
//	@Param			key	path		string	true	"Metadata key"
//	@Success		200	{object}	server.Envelope{data=services.MetaEntry}
//	@Failure		404	{object}	server.Envelope
//	@Failure		500	{object}	server.Envelope
//	@Router			/meta/{key} [get]
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	e, err := h.repo.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			server.NotFound(w, "no metadata entry "+key)
			return
		}
		h.logger.Error("failed to get metadata", zap.String("key", key), zap.Error(err))
		server.InternalError(w, "failed to get metadata")
		return
	}
	server.WriteData(w, http.StatusOK, "", e)
}
