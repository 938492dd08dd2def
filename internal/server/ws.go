package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const wsWriteTimeout = 5 * time.Second

// handleStateStream pushes the full state on connect and after every
// registry change until the client goes away.
func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer closes.
	ctx := conn.CloseRead(r.Context())
	changes := s.deps.State.Subscribe(ctx)

	if err := s.pushState(ctx, conn); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case _, ok := <-changes:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := s.pushState(ctx, conn); err != nil {
				return
			}
		}
	}
}

func (s *Server) pushState(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, s.deps.State.State()); err != nil {
		s.logger.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}
