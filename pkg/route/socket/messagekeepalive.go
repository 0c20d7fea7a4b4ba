package socket

import "github.com/spike-events/spike-directory/pkg/service/request"

type WSMessageKeepAlive struct {
	WSMessage
}

func (m *WSMessageKeepAlive) Handle(ws *WSConnection) *request.ErrorRequest {
	if err := ws.WriteJSON(m.WSMessage); err != nil {
		return &request.ErrorInternalServerError
	}
	return nil
}

// WSMessageSubscribe narrows the feed to events about one lock object.
type WSMessageSubscribe struct {
	WSMessage
}

func (m *WSMessageSubscribe) Handle(ws *WSConnection) *request.ErrorRequest {
	if m.Object == "" {
		return &request.ErrorInvalidParams
	}
	ws.SetObject(m.Object)
	return nil
}

// WSMessageUnsubscribe restores the unfiltered feed.
type WSMessageUnsubscribe struct {
	WSMessage
}

func (m *WSMessageUnsubscribe) Handle(ws *WSConnection) *request.ErrorRequest {
	ws.SetObject("")
	return nil
}
