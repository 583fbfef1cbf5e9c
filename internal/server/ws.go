package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/flowtalk/internal/app"
	"github.com/MrWong99/flowtalk/internal/capture"
	"github.com/MrWong99/flowtalk/internal/observe"
	"github.com/MrWong99/flowtalk/internal/prompt"
	"github.com/MrWong99/flowtalk/internal/session"
	"github.com/MrWong99/flowtalk/pkg/types"
)

const (
	// outboundBuffer is the number of messages queued for a slow client
	// before further events are dropped.
	outboundBuffer = 256

	writeTimeout    = 10 * time.Second
	readLimit       = 1 << 20
	defaultMicRate  = 16000
	micSourceBuffer = 128
)

// errConnClosed ends a connection's goroutines after a normal close.
var errConnClosed = errors.New("server: connection closed")

// outbound is a queued message. view asks the writer for a fresh snapshot,
// taken outside the controller's listener callback.
type outbound struct {
	msg  serverMessage
	view bool
}

// wsConn is one browser connection bound to one session controller.
type wsConn struct {
	conn    *websocket.Conn
	ctrl    *session.Controller
	source  *capture.ChanSource
	out     chan outbound
	log     *slog.Logger
	micRate int
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		slog.Warn("websocket upgrade rejected", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{
		conn:    conn,
		source:  capture.NewChanSource(micSourceBuffer),
		out:     make(chan outbound, outboundBuffer),
		micRate: defaultMicRate,
	}
	ctrl, err := s.cfg.Sessions.Open(ctx, app.OpenOptions{
		Transport: "ws",
		Remote:    r.RemoteAddr,
		Listener:  c.onEvent,
		Source:    c.source,
	})
	if err != nil {
		slog.Error("open session", "remote", r.RemoteAddr, "err", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	c.ctrl = ctrl
	c.log = observe.SessionLogger(ctx, ctrl.ID())
	defer func() {
		if err := s.cfg.Sessions.Close(ctrl.ID()); err != nil {
			c.log.Warn("close session", "err", err)
		}
	}()

	c.queueView()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.readLoop(gctx, g) })
	err = g.Wait()

	switch {
	case err == nil, errors.Is(err, errConnClosed), errors.Is(err, context.Canceled):
		c.log.Debug("websocket closed")
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		c.log.Warn("websocket ended", "err", err)
		conn.Close(websocket.StatusInternalError, "internal error")
	}
}

// onEvent is the controller listener. It never blocks.
func (c *wsConn) onEvent(e session.Event) {
	if e.Kind == session.EventState {
		c.queueView()
		return
	}
	if msg, ok := eventMessage(e); ok {
		c.enqueue(outbound{msg: msg})
	}
}

func (c *wsConn) queueView() { c.enqueue(outbound{view: true}) }

func (c *wsConn) enqueue(o outbound) {
	select {
	case c.out <- o:
	default:
		if c.log != nil {
			c.log.Warn("websocket client too slow; dropping message", "type", o.msg.Type)
		}
	}
}

func (c *wsConn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o := <-c.out:
			msg := o.msg
			if o.view {
				v := c.ctrl.View()
				msg = serverMessage{Type: msgTypeView, View: &v}
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				return fmt.Errorf("write %s: %w", msg.Type, err)
			}
		}
	}
}

func (c *wsConn) readLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return errConnClosed
			}
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			c.pushAudio(data)
		case websocket.MessageText:
			var m clientMessage
			if err := json.Unmarshal(data, &m); err != nil {
				c.reply(m, fmt.Errorf("%w: %v", errBadMessage, err))
				continue
			}
			c.dispatch(ctx, g, m)
		}
	}
}

// dispatch runs one client command. Turns run in their own goroutine so
// leave, voice and playback commands stay responsive while a reply is
// pending.
func (c *wsConn) dispatch(ctx context.Context, g *errgroup.Group, m clientMessage) {
	switch m.Type {
	case msgSelectPersona:
		c.reply(m, c.ctrl.SelectPersona(m.Persona))
	case msgSetMode:
		mode, err := prompt.ParseMode(m.Mode)
		if err != nil {
			c.reply(m, fmt.Errorf("%w: %q", errBadMode, m.Mode))
			return
		}
		c.reply(m, c.ctrl.SetMode(mode))
	case msgStartTopic:
		g.Go(func() error {
			c.reply(m, c.ctrl.StartTopic(ctx, m.Topic))
			return nil
		})
	case msgSend:
		g.Go(func() error {
			c.reply(m, c.ctrl.Send(ctx, m.Text))
			return nil
		})
	case msgLeave:
		c.ctrl.Leave()
		c.queueView()
	case msgView:
		c.queueView()
	case msgVoiceStart:
		if m.SampleRate > 0 {
			c.micRate = m.SampleRate
		}
		c.source.SetDenied(m.Denied)
		c.reply(m, c.ctrl.StartCapture(ctx))
	case msgVoiceStop:
		c.reply(m, c.ctrl.StopCapture())
	case msgReplay:
		c.reply(m, c.ctrl.Replay(m.TurnID))
	case msgStopPlayback:
		c.ctrl.StopPlayback()
		c.queueView()
	default:
		c.reply(m, fmt.Errorf("%w: %q", errBadMessage, m.Type))
	}
}

// reply reports the outcome of a command: an error message when it failed
// for a reason the client caused, then a fresh view. Turn failures are
// already reported as notices by the controller.
func (c *wsConn) reply(m clientMessage, err error) {
	if err != nil {
		code := errorCode(err)
		if code != "turn_failed" {
			c.enqueue(outbound{msg: serverMessage{Type: msgTypeError, ID: m.ID, Code: code, Error: err.Error()}})
		}
		c.log.Debug("command failed", "type", m.Type, "code", code, "err", err)
	}
	c.queueView()
}

func (c *wsConn) pushAudio(pcm []byte) {
	if !c.source.Push(types.AudioFrame{Data: pcm, SampleRate: c.micRate, Channels: 1}) {
		c.log.Debug("dropped microphone frame", "bytes", len(pcm))
	}
}
