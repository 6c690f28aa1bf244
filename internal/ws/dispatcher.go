package ws

import (
	"context"

	"github.com/codepair/matchmaker/internal/protocol"
)

// MessageHandler handles a parsed client message. The msg parameter is the
// concrete struct returned by protocol.ParseClientMessage.
type MessageHandler func(ctx context.Context, conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. Ping is answered internally; malformed or
// unsupported messages get a structured error.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
}

// NewMessageDispatcher creates a MessageDispatcher bound to the given server.
// The server reference is used to send responses back to clients.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		server:   server,
	}
}

// Register associates a MessageHandler with a message type, replacing any
// previous handler for it.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses raw bytes and routes them to the registered handler.
func (d *MessageDispatcher) Dispatch(ctx context.Context, conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.server.log.Debug().Err(err).Str("conn_id", conn.ID).Msg("dispatch parse error")
		d.server.sendError(conn, protocol.CodeInvalidMessage, "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.server.send(conn, protocol.MustServerMessage(protocol.TypePong, protocol.PongMsg{}))
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.server.log.Debug().Str("type", msgType).Str("conn_id", conn.ID).Msg("unsupported message type")
		d.server.sendError(conn, protocol.CodeInvalidMessage, "unsupported message type")
		return
	}

	handler(ctx, conn, msg)
}
