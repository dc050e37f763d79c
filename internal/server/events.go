package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/jobs"
)

const eventWriteWait = 10 * time.Second

// eventMessage is one websocket frame: either a job event or the closing
// snapshot once the job is terminal.
type eventMessage struct {
	Type   string          `json:"type"`
	Event  *jobs.Event     `json:"event,omitempty"`
	Status *statusResponse `json:"status,omitempty"`
}

// events streams a job's events over a websocket. Clients may resume with
// ?since=<seq>. The stream ends with a "final" frame when the job is terminal.
func (h *HTTPHandler) events(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := common.ParseUUID("job_id", c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if _, err := h.svc.GetVideo(ctx, id.String()); err != nil {
		fail(c, err)
		return
	}
	var since int64
	if raw := c.Query("since"); raw != "" {
		if since, err = strconv.ParseInt(raw, 10, 64); err != nil || since < 0 {
			fail(c, common.InvalidArgumentError("since must be a non-negative integer"))
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("http.events.upgrade_failed", "job_id", id, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	bus := h.svc.Events()
	ticker := time.NewTicker(h.cfg.EventPoll)
	defer ticker.Stop()

	flush := func() bool {
		for _, ev := range bus.SinceFor(id, since) {
			ev := ev
			if err := h.send(conn, eventMessage{Type: "event", Event: &ev}); err != nil {
				return false
			}
			since = ev.Seq
		}
		return true
	}

	for {
		if !flush() {
			return
		}
		v, err := h.svc.GetVideo(ctx, id.String())
		if err != nil {
			return
		}
		if v.Stage.IsTerminal() {
			// the terminal event is published after the snapshot swap and
			// the store write, so give it one more poll
			select {
			case <-ctx.Done():
				return
			case <-gone:
				return
			case <-ticker.C:
			}
			if !flush() {
				return
			}
			st := toStatusResponse(v)
			_ = h.send(conn, eventMessage{Type: "final", Status: &st})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(v.Stage)),
				time.Now().Add(eventWriteWait))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case <-ticker.C:
		}
	}
}

func (h *HTTPHandler) send(conn *websocket.Conn, msg eventMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("http.events.write_failed", "error", err)
		return err
	}
	return nil
}
