package server

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/murmurlabs/murmur/internal/eventstore"
	"github.com/murmurlabs/murmur/internal/protocol"
	"github.com/murmurlabs/murmur/internal/session"
)

const writeTimeout = 5 * time.Second

// client is the per-connection state: the websocket, the outbound queue and
// at most one session. Inbound dispatch runs on the reader goroutine; all
// writes go through the outbound queue so that results produced on a worker
// are marshaled back instead of hitting the socket directly.
type client struct {
	srv  *Server
	ws   *websocket.Conn
	out  chan protocol.ServerMessage
	done chan struct{}
	once sync.Once
	sess *session.Session
}

func newClient(s *Server, ws *websocket.Conn) *client {
	return &client{
		srv:  s,
		ws:   ws,
		out:  make(chan protocol.ServerMessage, 32),
		done: make(chan struct{}),
	}
}

func (c *client) run() {
	go c.writeLoop()

	c.send(protocol.NewStatus(protocol.StatusReady))
	c.readLoop()
	c.teardown()
}

// send queues a message for the writer. After shutdown it is a no-op, which
// is what keeps late worker results away from a closed connection.
func (c *client) send(msg protocol.ServerMessage) {
	select {
	case <-c.done:
	case c.out <- msg:
	}
}

// close shuts the outbound path and the socket exactly once. Both the reader
// (teardown) and the writer (on write failure) call it, so whichever side
// fails first unblocks the other instead of wedging the connection slot.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.srv.log.Warn("write failed", slog.String("error", err.Error()))
				c.close()
				return
			}
		}
	}
}

func (c *client) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.srv.log.Warn("read failed", slog.String("error", err.Error()))
			}
			return
		}

		msg := protocol.ParseClientMessage(data)
		if msg == nil {
			c.srv.log.Warn("dropping unrecognized message", slog.Int("bytes", len(data)))
			continue
		}

		switch m := msg.(type) {
		case protocol.StartMessage:
			c.handleStart(m)
		case protocol.AudioMessage:
			c.handleAudio(m)
		case protocol.StopMessage:
			c.handleStop()
		}
	}
}

func (c *client) handleStart(msg protocol.StartMessage) {
	// A repeated start replaces the existing session. The old one is
	// explicitly abandoned rather than silently dropped so its buffers are
	// released and no stale finalize can fire.
	if c.sess != nil && c.sess.State() != session.StateStopped {
		c.srv.log.Info("replacing active session", slog.String("session", c.sess.Describe()))
		c.sess.Abandon()
		c.recordEvent(c.sess.ID(), eventstore.EventSessionReplaced, nil)
	}

	sess := session.New(c.srv.cfg, c.srv.decoder, c.srv.loader, c.srv.opts, func(r session.Result) {
		c.send(protocol.NewTranscript(r.Text, r.Final))
	}, c.srv.baseLog)

	// Loading the engine can block for seconds on first start.
	if err := sess.Start(c.srv.ctx, msg.Language); err != nil {
		c.srv.log.Error("session start failed", slog.String("error", err.Error()))
		c.send(protocol.NewStatusError(err.Error()))
		return
	}
	c.sess = sess

	if c.srv.sessionsStarted != nil {
		c.srv.sessionsStarted.Add(c.srv.ctx, 1)
	}
	if c.srv.store != nil {
		if err := c.srv.store.AppendSession(c.srv.ctx, sess.ID(), sess.Language()); err != nil {
			c.srv.log.Warn("failed to record session", slog.String("error", err.Error()))
		}
	}
	c.recordEvent(sess.ID(), eventstore.EventSessionStarted, nil)
	if c.srv.bus != nil {
		c.srv.bus.PublishJSON(protocol.SubjectSessionStarted, protocol.SessionEvent{
			SessionID: sess.ID(),
			Language:  sess.Language(),
			Timestamp: time.Now().UTC(),
		})
	}

	c.send(protocol.NewStatus(protocol.StatusRecording))
}

func (c *client) handleAudio(msg protocol.AudioMessage) {
	if c.sess == nil {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		c.srv.log.Warn("dropping undecodable audio fragment", slog.String("error", err.Error()))
		return
	}
	c.sess.FeedAudio(raw)
	if c.srv.audioBytes != nil {
		c.srv.audioBytes.Add(c.srv.ctx, int64(len(raw)))
	}
}

func (c *client) handleStop() {
	if c.sess == nil {
		c.send(protocol.NewStatusError("not recording"))
		return
	}
	sess := c.sess
	c.sess = nil

	c.send(protocol.NewStatus(protocol.StatusProcessing))

	// Finalize runs off the reader loop; the transcript comes back through
	// the session sink and the outbound queue, followed by the ready status
	// queued below, so ordering is preserved.
	go func() {
		bytes := sess.BufferedBytes()
		start := time.Now()
		text := sess.Stop(c.srv.ctx)
		took := time.Since(start)

		if c.srv.finalizeDuration != nil {
			c.srv.finalizeDuration.Record(c.srv.ctx, took.Seconds())
		}
		detail, _ := json.Marshal(map[string]any{
			"bytes":       bytes,
			"chars":       len(text),
			"duration_ms": took.Milliseconds(),
		})
		eventType := eventstore.EventFinalizeComplete
		if sess.FinalizeSkipped() {
			eventType = eventstore.EventFinalizeSkipped
		}
		c.recordEvent(sess.ID(), eventType, detail)

		if c.srv.bus != nil {
			if text != "" {
				c.srv.bus.PublishJSON(protocol.SubjectTranscriptFinal, protocol.Transcript{
					SessionID: sess.ID(),
					Text:      text,
					Language:  sess.Language(),
					Timestamp: time.Now().UTC(),
				})
			}
			c.srv.bus.PublishJSON(protocol.SubjectSessionStopped, protocol.SessionEvent{
				SessionID: sess.ID(),
				Language:  sess.Language(),
				Timestamp: time.Now().UTC(),
			})
		}

		c.send(protocol.NewStatus(protocol.StatusReady))
	}()
}

// teardown closes the outbound path first so no late result can reach the
// peer, then force-stops a still-recording session best-effort.
func (c *client) teardown() {
	c.close()

	if c.sess != nil && c.sess.State() == session.StateRecording {
		discarded := c.sess.Stop(c.srv.ctx)
		c.srv.log.Info("session force-stopped on disconnect",
			slog.String("session_id", c.sess.ID()),
			slog.Int("discarded_chars", len(discarded)))
		c.recordEvent(c.sess.ID(), eventstore.EventSessionDropped, nil)
		c.sess = nil
	}
}

func (c *client) recordEvent(sessionID, eventType string, detail []byte) {
	if c.srv.store == nil {
		return
	}
	evt := eventstore.Event{SessionID: sessionID, Type: eventType, Detail: detail}
	if err := c.srv.store.AppendEvent(c.srv.ctx, evt); err != nil {
		c.srv.log.Warn("failed to record event",
			slog.String("event", eventType),
			slog.String("error", err.Error()))
	}
}
