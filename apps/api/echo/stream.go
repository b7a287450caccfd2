package echoapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-proctor/core/integrity"
	"github.com/trezcool/masomo-proctor/core/integrity/remote"
	"github.com/trezcool/masomo-proctor/core/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 64 * 1024
)

// Stream message kinds.
const (
	KindVerdict   = "verdict"
	KindCommand   = "command"
	KindViolation = "violation"
	KindError     = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // authenticated by token
}

// StreamMessage is one server -> client websocket frame.
type StreamMessage struct {
	Kind      string               `json:"kind"`
	Verdict   *remote.Verdict      `json:"verdict,omitempty"`
	Command   *remote.Command      `json:"command,omitempty"`
	Violation *integrity.Violation `json:"violation,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// stream upgrades to a websocket. The session's student sends envelopes and receives
// verdicts & commands; everyone allowed to read the session receives its violations.
func (api *sessionApi) stream(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	id := ctx.Param("id")

	sess, err := api.svc.Get(id, actor)
	if err != nil {
		return errors.Wrap(err, "getting session")
	}
	st, err := api.svc.Subscribe(id, actor)
	if err != nil {
		return errors.Wrap(err, "subscribing to session")
	}
	defer st.Cancel()

	commands := st.Commands
	if sess.StudentID != actor.ID {
		commands = nil // observers must not steal the shim's commands
	}

	ws, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		api.logger.Debug(fmt.Sprintf("stream(%s): upgrade failed: %v", id, err))
		return nil // the upgrader already replied
	}
	defer func() { _ = ws.Close() }()

	out := make(chan StreamMessage, 16)
	quit := make(chan struct{})
	done := make(chan struct{})
	defer close(quit)

	go func() {
		defer close(done)
		ws.SetReadLimit(maxMessage)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(pongWait)) })

		for {
			var env remote.Envelope
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			msg := StreamMessage{Kind: KindVerdict}
			v, err := api.svc.Dispatch(id, actor, env)
			switch {
			case err != nil:
				msg = StreamMessage{Kind: KindError, Error: errors.Cause(err).Error()}
			case v == nil:
				continue
			default:
				msg.Verdict = v
			}
			select {
			case out <- msg:
			case <-quit:
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(msg StreamMessage) error {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteJSON(msg)
	}

	for {
		var msg StreamMessage
		select {
		case <-done:
			return nil
		case msg = <-out:
		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			msg = StreamMessage{Kind: KindCommand, Command: &cmd}
		case v, ok := <-st.Violations:
			if !ok { // session ended
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, session.ErrEnded.Error()),
					time.Now().Add(writeWait))
				return nil
			}
			msg = StreamMessage{Kind: KindViolation, Violation: &v}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
			continue
		}
		if err := write(msg); err != nil {
			return nil
		}
	}
}
