package web

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/panyam/classdraw/collab"
)

// serveLive upgrades /ws/diagrams/{diagramId}?session=<id> and hands the
// connection to the diagram's room until either side goes away.
func (a *App) serveLive(w http.ResponseWriter, r *http.Request) {
	diagramId := r.PathValue("diagramId")
	if _, err := a.Service.GetDiagram(r.Context(), diagramId); err != nil {
		writeError(w, err)
		return
	}
	sessionId := r.URL.Query().Get("session")
	if sessionId == "" {
		sessionId = uuid.NewString()
	}

	conn, err := collab.Upgrade(w, r)
	if err != nil {
		// the upgrader has already replied
		a.logger.Warn("Websocket upgrade failed", "diagramId", diagramId, "error", err)
		return
	}
	a.logger.Info("Peer connected", "diagramId", diagramId, "session", sessionId)
	if err := a.Hub.Serve(r.Context(), diagramId, sessionId, conn); err != nil {
		a.logger.Warn("Peer session ended with error", "diagramId", diagramId, "session", sessionId, "error", err)
		return
	}
	a.logger.Info("Peer disconnected", "diagramId", diagramId, "session", sessionId)
}
