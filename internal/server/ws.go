package server

import (
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"gigboard/internal/notify"
)

// The default origin check applies: browsers must be same-origin, and
// non-browser clients send no Origin header at all.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// registerWS exposes the realtime channel. The auth middleware has already
// resolved a principal, either from the Authorization header or from the
// token query parameter.
func registerWS(r chi.Router, basePath string, hub *notify.Hub, authCfg AuthConfig) {
	r.Get(path.Join(basePath, "ws"), func(w http.ResponseWriter, req *http.Request) {
		if hub == nil {
			respondStatusError(w, newAPIError(http.StatusServiceUnavailable, "unavailable", "realtime channel disabled", nil))
			return
		}
		principal, ok := principalFromContext(req.Context())
		if !ok || principal.UserID == "" {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			// Upgrade writes its own error response.
			authCfg.logger().Printf("ws: upgrade failed for %s: %v", principal.UserID, err)
			return
		}
		hub.Register(principal.UserID, conn)
	})
}
