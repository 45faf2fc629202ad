package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/risto-app/risto/internal/auth"
)

// HandleWebSocket returns an HTTP handler that upgrades an authenticated
// request to a WebSocket and runs it as a Hub client of that user. It must
// sit behind middleware.RequireAuth.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if userID == 0 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err, "user_id", userID)
			return
		}
		defer conn.CloseNow()

		client := NewClient(hub, conn, userID)
		client.Run(r.Context())
	}
}
