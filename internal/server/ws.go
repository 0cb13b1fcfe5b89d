package server

import (
	"net/http"

	"github.com/lendloop/realtime/internal/auth"
	"github.com/lendloop/realtime/internal/types"
	"go.uber.org/zap"
)

// ServeWS upgrades an already authenticated request and registers the
// connection. Requests without a verified identity never reach the registry.
func (cs *ChatServer) ServeWS(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	conn, err := cs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cs.log.Warn("error upgrading connection", zap.Error(err))
		return
	}

	client := NewClient(types.User{
		Id:          id.UserId,
		DisplayName: id.DisplayName,
	}, conn, cs, cs.log)

	cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
