package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	replyBuffer    = 32
)

// Message types a websocket client sends.
const (
	MessageCommand = "command"
	MessageQuery   = "query"
)

// ClientMessage is one frame sent by a websocket client. Data holds a
// CommandRequest or a QueryRequest.
type ClientMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// ServerMessage is one frame sent to a websocket client.
type ServerMessage struct {
	Envelope
	RequestID string `json:"request_id,omitempty"`
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			_, ok := allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
			return ok
		},
	}
}

// wsClient is one websocket connection following a game.
type wsClient struct {
	conn    *websocket.Conn
	sub     *Subscriber
	replies chan ServerMessage
	svc     Services
	gameID  string
}

func (c *wsClient) reply(msg ServerMessage) {
	select {
	case c.replies <- msg:
	default:
		c.svc.Logger.Warn("dropping websocket reply",
			zap.String("game_id", c.gameID),
			zap.String("type", msg.Type),
		)
	}
}

func (c *wsClient) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		cancel()
		c.svc.Hub.Unsubscribe(c.sub)
		close(c.replies)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.svc.Logger.Info("websocket closed", zap.String("game_id", c.gameID), zap.Error(err))
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(errorMessage(c.gameID, "", gameerr.Wrap(gameerr.CodeInvalidArgument, "malformed message", err)))
			continue
		}
		c.reply(c.handle(ctx, msg))
	}
}

func (c *wsClient) handle(ctx context.Context, msg ClientMessage) ServerMessage {
	switch msg.Type {
	case MessageCommand:
		var req CommandRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return errorMessage(c.gameID, msg.RequestID, gameerr.Wrap(gameerr.CodeInvalidArgument, "malformed command", err))
		}
		if req.HasOverrides() {
			return errorMessage(c.gameID, msg.RequestID, gameerr.New(gameerr.CodeOverridesDenied, "overrides are not accepted over websocket"))
		}
		req.GameID = c.gameID
		cmd, err := req.Command()
		if err != nil {
			return errorMessage(c.gameID, msg.RequestID, err)
		}
		res, err := c.svc.Dispatcher.Execute(ctx, cmd)
		if err != nil {
			return errorMessage(c.gameID, msg.RequestID, err)
		}
		return ServerMessage{
			Envelope:  Envelope{Type: EnvelopeResult, GameID: res.GameID, Data: NewResultView(res)},
			RequestID: msg.RequestID,
		}
	case MessageQuery:
		var req QueryRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return errorMessage(c.gameID, msg.RequestID, gameerr.Wrap(gameerr.CodeInvalidArgument, "malformed query", err))
		}
		req.GameID = c.gameID
		answer, err := req.Run(ctx, c.svc.Engine)
		if err != nil {
			return errorMessage(c.gameID, msg.RequestID, err)
		}
		return ServerMessage{
			Envelope:  Envelope{Type: EnvelopeResult, GameID: c.gameID, Data: answer},
			RequestID: msg.RequestID,
		}
	default:
		return errorMessage(c.gameID, msg.RequestID, gameerr.WithMetadata(gameerr.CodeInvalidArgument, "unknown message type", map[string]string{
			"type": msg.Type,
		}))
	}
}

func errorMessage(gameID, requestID string, err error) ServerMessage {
	return ServerMessage{
		Envelope:  Envelope{Type: EnvelopeError, GameID: gameID, Data: describeError(err)},
		RequestID: requestID,
	}
}

func (c *wsClient) writeJSON(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	events := c.sub.C()
	for {
		select {
		case env, ok := <-events:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber fell behind"),
					time.Now().Add(writeWait))
				return
			}
			if err := c.writeJSON(ServerMessage{Envelope: env}); err != nil {
				return
			}
		case msg, ok := <-c.replies:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			if err := c.writeJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// serveWS upgrades the request and follows gameID until either side hangs up.
func serveWS(svc Services, upgrader *websocket.Upgrader, gameID string, w http.ResponseWriter, r *http.Request) {
	if _, err := svc.Engine.GetGame(r.Context(), gameID); err != nil {
		respondError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		svc.Logger.Info("websocket upgrade failed", zap.String("game_id", gameID), zap.Error(err))
		return
	}

	client := &wsClient{
		conn:    conn,
		sub:     svc.Hub.Subscribe(gameID),
		replies: make(chan ServerMessage, replyBuffer),
		svc:     svc,
		gameID:  gameID,
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))

	go client.writePump()
	go client.readPump(ctx, cancel)
}
