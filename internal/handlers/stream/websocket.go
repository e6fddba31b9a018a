// internal/handlers/stream/websocket.go
package stream

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sessionbridge-service/internal/pkg/response"
	service "sessionbridge-service/internal/service/sshsession"
	"sessionbridge-service/internal/sshx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced at the gateway
	},
}

// clientMessage is what the websocket client sends.
type clientMessage struct {
	Action    string `json:"action"` // "execute" or "cancel"
	Command   string `json:"command,omitempty"`
	CommandID string `json:"commandId,omitempty"`
}

// wsSink adapts a websocket connection into a stream sink. Writes are
// serialized because gorilla connections allow one concurrent writer.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(msg sshx.StreamMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Handler serves the streaming command execution websocket.
type Handler struct {
	sessions *service.Service
	streamer *sshx.Streamer
	logger   *zap.Logger
}

func NewHandler(sessions *service.Service, streamer *sshx.Streamer, logger *zap.Logger) *Handler {
	return &Handler{sessions: sessions, streamer: streamer, logger: logger}
}

// Commands upgrades the connection and serves execute/cancel messages until
// the client disconnects. The session token is validated once at upgrade
// time and the resolved key pins every command to that session.
func (h *Handler) Commands(c *gin.Context) {
	key, wrapper, err := h.sessions.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Commands started over this socket must not outlive it.
	defer h.streamer.CancelAll(key)

	sink := &wsSink{conn: conn}

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		switch msg.Action {
		case "execute":
			if msg.Command == "" {
				_ = sink.Send(sshx.StreamMessage{
					Type: sshx.StreamError, CommandID: msg.CommandID, Data: "command is required",
				})
				continue
			}
			go func(commandID, cmd string) {
				if _, err := h.streamer.Start(key, wrapper, commandID, cmd, sink); err != nil {
					h.logger.Warn("streamed command failed",
						zap.String("key", key.String()), zap.Error(err))
				}
			}(msg.CommandID, msg.Command)

		case "cancel":
			if msg.CommandID == "" {
				_ = sink.Send(sshx.StreamMessage{
					Type: sshx.StreamError, Data: "commandId is required for cancel",
				})
				continue
			}
			if !h.streamer.Cancel(key, msg.CommandID) {
				_ = sink.Send(sshx.StreamMessage{
					Type: sshx.StreamError, CommandID: msg.CommandID, Data: "no such running command",
				})
			}

		default:
			_ = sink.Send(sshx.StreamMessage{
				Type: sshx.StreamError, Data: "unknown action " + msg.Action,
			})
		}
	}
}
