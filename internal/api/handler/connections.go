package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/roomscan/internal/api/response"
	"github.com/kiranshivaraju/roomscan/internal/apperr"
)

const maxMessageBytes = 64 << 10

// Connection routes are called by the push gateway that owns the client
// sockets. Replies to client messages go back through the transport, so
// these handlers only acknowledge.
type Connections struct {
	registry Registry
}

func NewConnections(reg Registry) *Connections {
	return &Connections{registry: reg}
}

// Connect handles POST /api/v1/connections/{connectionID}.
func (h *Connections) Connect(w http.ResponseWriter, r *http.Request) {
	connID := chi.URLParam(r, "connectionID")
	if err := h.registry.Connect(r.Context(), connID); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, map[string]any{"connection_id": connID, "status": "connected"})
}

// Disconnect handles DELETE /api/v1/connections/{connectionID}.
func (h *Connections) Disconnect(w http.ResponseWriter, r *http.Request) {
	connID := chi.URLParam(r, "connectionID")
	removed, err := h.registry.UnsubscribeAll(r.Context(), connID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, map[string]any{"connection_id": connID, "removed": removed})
}

// Message handles POST /api/v1/connections/{connectionID}/messages. The raw
// body is the client frame. Protocol errors are answered on the connection.
func (h *Connections) Message(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		response.Error(w, http.StatusRequestEntityTooLarge, apperr.CodeInvalidRequest, "message too large", nil)
		return
	}

	if err := h.registry.HandleMessage(r.Context(), chi.URLParam(r, "connectionID"), body); err != nil {
		response.FromError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
