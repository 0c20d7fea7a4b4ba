// Package socket relays lock events to WebSocket clients.
package socket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spike-events/spike-directory/pkg/lock"
	"github.com/spike-events/spike-directory/pkg/service"
	"github.com/spike-events/spike-directory/pkg/service/request"
)

const (
	WebSocketMsgBufferSize = 30
)

// Feed delivers lock events until the returned stop function is called.
type Feed interface {
	Subscribe(hc func(e lock.Event)) (func(), error)
}

// NewConnectionWS upgrades to a WebSocket streaming every lock event. All
// connections close when ctx ends.
func NewConnectionWS(ctx context.Context, feed Feed, logger service.Logger, debug bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var upgrader = websocket.Upgrader{}
		upgrader.HandshakeTimeout = 10 * time.Second
		upgrader.CheckOrigin = func(r *http.Request) bool {
			return true
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("ws: upgrade: %v", err)
			return
		}
		conn := newConnection(c, logger, debug)
		stop, err := feed.Subscribe(conn.deliver)
		if err != nil {
			logger.Printf("ws: subscribe for %s: %v", conn.ID, err)
			_ = conn.WriteJSON(WSMessage{Type: WSMessageTypeError, Data: request.InternalError(err)})
			_ = c.Close()
			return
		}
		go conn.writer()
		go wsHandler(ctx, conn, stop)
	}
}

func wsHandler(ctx context.Context, c *WSConnection, stop func()) {
	defer service.DeferRecover(c.logger)
	defer func() {
		stop()
		c.CancelContext()
		if err := c.WSConnection().Close(); err != nil {
			c.printDebug("ws: failed to close connection %s: %v", c.ID, err)
		}
		c.printDebug("ws: disconnected %s", c.ID)
	}()
	go func() {
		select {
		case <-ctx.Done():
		case <-c.Context().Done():
		}
		// Unblocks ReadJSON below.
		_ = c.WSConnection().Close()
	}()

	for {
		var wsMsg WSMessage
		err := c.WSConnection().ReadJSON(&wsMsg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Printf("ws: connection %s: %v", c.ID, err)
			}
			return
		}

		handler := NewMessageHandler(&wsMsg)
		if handler == nil {
			wsMsg.Type = WSMessageTypeError
			wsMsg.Data = &request.ErrorInvalidParams
			if err = c.WriteJSON(wsMsg); err != nil {
				return
			}
			continue
		}
		if rErr := handler.Handle(c); rErr != nil {
			wsMsg.Type = WSMessageTypeError
			wsMsg.Data = rErr
			if err = c.WriteJSON(wsMsg); err != nil {
				return
			}
		}
	}
}
