package socket

import (
	"github.com/spike-events/spike-directory/pkg/service/request"
)

type WSMessageType string

const (
	WSMessageTypeEvent       WSMessageType = "event"
	WSMessageTypeSubscribe   WSMessageType = "subscribe"
	WSMessageTypeUnsubscribe WSMessageType = "unsubscribe"
	WSMessageTypeError       WSMessageType = "error"
	WSMessageTypeKeepAlive   WSMessageType = "keepalive"
)

type WSMessageHandler interface {
	Handle(c *WSConnection) *request.ErrorRequest
}

// WSMessage is both what clients send and what the feed writes back. Object
// names the lock object a subscribe message narrows the feed to.
type WSMessage struct {
	ID     string        `json:"id,omitempty"`
	Type   WSMessageType `json:"type"`
	Object string        `json:"object,omitempty"`
	Data   interface{}   `json:"data,omitempty"`
}

// NewMessageHandler returns nil for message types clients may not send.
func NewMessageHandler(wsMsg *WSMessage) WSMessageHandler {
	switch wsMsg.Type {
	case WSMessageTypeSubscribe:
		return &WSMessageSubscribe{WSMessage: *wsMsg}
	case WSMessageTypeUnsubscribe:
		return &WSMessageUnsubscribe{WSMessage: *wsMsg}
	case WSMessageTypeKeepAlive:
		return &WSMessageKeepAlive{WSMessage: *wsMsg}
	}
	return nil
}
