package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/TrickeySolutions/aggregator-demo/activity"
	"github.com/TrickeySolutions/aggregator-demo/turnstile"
)

func isVerificationError(err error) bool {
	var verr *turnstile.VerificationError
	return errors.As(err, &verr) ||
		errors.Is(err, turnstile.ErrMissingToken) ||
		errors.Is(err, turnstile.ErrMissingSecret)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// clientMessage is the inbound websocket envelope.
type clientMessage struct {
	Type     string            `json:"type"`
	FormData activity.FormData `json:"formData,omitempty"`
	Section  activity.Section  `json:"section,omitempty"`
	Token    string            `json:"token,omitempty"`
}

// serverMessage is the outbound websocket envelope.
type serverMessage struct {
	Type        activity.EventType `json:"type"`
	State       *activity.State    `json:"state,omitempty"`
	RedirectURL string             `json:"redirectUrl,omitempty"`
	Message     string             `json:"message,omitempty"`
}

// ActivitySocket upgrades the connection and runs the live session: inbound
// commands drive the activity actor, every resulting broadcast flows back
// down the same socket. Connections share the activity's subscriber hub, so
// one tab's edits appear in every other tab.
func (s *Server) ActivitySocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := &socketSession{
		server:     s,
		conn:       conn,
		activityID: c.Param("activityId"),
		sub:        s.activities.Hub().Subscribe(c.Param("activityId")),
		direct:     make(chan activity.Event, 8),
		done:       make(chan struct{}),
	}
	go session.writePump()
	session.readPump()
}

type socketSession struct {
	server     *Server
	conn       *websocket.Conn
	activityID string
	sub        *activity.Subscriber
	// direct carries replies for this connection only, get_state answers
	// and per-command errors; hub broadcasts fan in via sub.
	direct chan activity.Event
	done   chan struct{}
}

func (ss *socketSession) readPump() {
	defer func() {
		close(ss.done)
		ss.sub.Close()
		ss.conn.Close()
	}()
	ss.conn.SetReadLimit(maxMessageSize)
	ss.conn.SetReadDeadline(time.Now().Add(pongWait))
	ss.conn.SetPongHandler(func(string) error {
		ss.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := ss.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ss.server.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			ss.reply(activity.ErrorEvent("malformed message"))
			continue
		}
		ss.handle(msg)
	}
}

func (ss *socketSession) handle(msg clientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	activities := ss.server.activities

	switch msg.Type {
	case "get_state":
		st, err := activities.GetState(ctx, ss.activityID)
		if err != nil {
			ss.replyError(err)
			return
		}
		ss.reply(activity.StateUpdateEvent(st))
	case "form_update":
		if _, err := activities.ApplyFormUpdate(ctx, ss.activityID, msg.FormData, msg.Section); err != nil {
			ss.replyError(err)
		}
	case "save_draft":
		if _, err := activities.SaveDraft(ctx, ss.activityID); err != nil {
			ss.replyError(err)
		}
	case "submit":
		if _, err := activities.Submit(ctx, ss.activityID, msg.Token); err != nil {
			ss.replyError(err)
		}
	case "fill_sample":
		if _, err := activities.FillSample(ctx, ss.activityID); err != nil {
			ss.replyError(err)
		}
	default:
		ss.reply(activity.ErrorEvent("unknown message type"))
	}
}

func (ss *socketSession) replyError(err error) {
	msg := "something went wrong, please try again"
	switch {
	case errors.Is(err, activity.ErrNotFound):
		msg = "this quote session no longer exists"
	case isVerificationError(err):
		msg = "verification failed: " + err.Error()
	}
	ss.server.logger.Warn("websocket command failed",
		zap.String("activity_id", ss.activityID),
		zap.Error(err))
	ss.reply(activity.ErrorEvent(msg))
}

func (ss *socketSession) reply(ev activity.Event) {
	select {
	case ss.direct <- ev:
	case <-ss.done:
	}
}

func (ss *socketSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ss.conn.Close()
	}()
	for {
		var ev activity.Event
		select {
		case ev = <-ss.direct:
		case e, ok := <-ss.sub.Events():
			if !ok {
				return
			}
			ev = e
		case <-ticker.C:
			ss.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ss.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case <-ss.done:
			return
		}

		ss.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ss.conn.WriteJSON(serverMessage{
			Type:        ev.Type,
			State:       ev.State,
			RedirectURL: ev.RedirectURL,
			Message:     ev.Message,
		}); err != nil {
			return
		}
	}
}
