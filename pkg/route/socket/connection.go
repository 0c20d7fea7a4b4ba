package socket

import (
	"context"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"github.com/spike-events/spike-directory/pkg/lock"
	"github.com/spike-events/spike-directory/pkg/service"
)

// WSConnection is one feed client.
type WSConnection struct {
	ID        string `json:"id"`
	ctx       context.Context
	cancelCtx context.CancelFunc
	ws        *websocket.Conn
	logger    service.Logger
	debug     bool

	// gorilla connections allow one concurrent writer.
	wm     sync.Mutex
	m      sync.Mutex
	object string
	events chan lock.Event
}

func newConnection(conn *websocket.Conn, logger service.Logger, debug bool) *WSConnection {
	id, _ := uuid.NewV4()
	inCtx, cancel := context.WithCancel(context.Background())
	return &WSConnection{
		ID:        id.String(),
		ctx:       inCtx,
		cancelCtx: cancel,
		ws:        conn,
		logger:    logger,
		debug:     debug,
		events:    make(chan lock.Event, WebSocketMsgBufferSize),
	}
}

func (ws *WSConnection) Context() context.Context {
	return ws.ctx
}

func (ws *WSConnection) CancelContext() {
	ws.cancelCtx()
}

func (ws *WSConnection) WSConnection() *websocket.Conn {
	return ws.ws
}

func (ws *WSConnection) WriteJSON(v interface{}) error {
	ws.wm.Lock()
	defer ws.wm.Unlock()
	return ws.ws.WriteJSON(v)
}

// SetObject restricts the feed to one lock object; empty means all.
func (ws *WSConnection) SetObject(object string) {
	ws.m.Lock()
	defer ws.m.Unlock()
	ws.object = object
}

func (ws *WSConnection) wants(e lock.Event) bool {
	ws.m.Lock()
	defer ws.m.Unlock()
	return ws.object == "" || e.Lock == nil || e.Lock.Object == ws.object
}

// deliver queues e without blocking the feed. A client too slow to drain its
// buffer loses events.
func (ws *WSConnection) deliver(e lock.Event) {
	if !ws.wants(e) {
		return
	}
	select {
	case ws.events <- e:
	case <-ws.ctx.Done():
	default:
		ws.printDebug("ws: dropping %s event for slow client %s", e.Type, ws.ID)
	}
}

func (ws *WSConnection) writer() {
	for {
		select {
		case <-ws.ctx.Done():
			return
		case e := <-ws.events:
			if err := ws.WriteJSON(WSMessage{Type: WSMessageTypeEvent, Data: e}); err != nil {
				ws.printDebug("ws: write to %s: %v", ws.ID, err)
				ws.CancelContext()
				return
			}
		}
	}
}

func (ws *WSConnection) printDebug(str string, params ...interface{}) {
	if ws.debug {
		ws.logger.Printf(str, params...)
	}
}
