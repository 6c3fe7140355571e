package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/emit"
)

// Inbound actions on the duplex channel.
const (
	ActionExecute = "execute"
	ActionCancel  = "cancel"
)

// MsgRunInProgress is the error message sent when execute arrives during a
// run.
const MsgRunInProgress = "execution already in progress"

type inbound struct {
	Action string          `json:"action"`
	Flow   json.RawMessage `json:"flow"`
}

// session is one websocket connection and its engine.
type session struct {
	conn    *websocket.Conn
	engine  *graph.Engine
	logger  *slog.Logger
	timeout time.Duration

	writeMu sync.Mutex
	runs    sync.WaitGroup
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := &session{
		conn:    conn,
		logger:  s.logger.With("remote_addr", r.RemoteAddr),
		timeout: s.opts.WriteTimeout,
	}
	opts := []graph.Option{
		graph.WithEmitter(emit.NewMultiEmitter(emit.EmitterFunc(sess.send), s.opts.Observer)),
		graph.WithLogger(s.opts.Logger),
		graph.WithSerializer(s.opts.Serializer),
	}
	if s.opts.Metrics != nil {
		opts = append(opts, graph.WithMetrics(s.opts.Metrics))
	}
	sess.engine, err = graph.New(s.opts.Registry, opts...)
	if err != nil {
		s.logger.Error("create engine", "error", err)
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer func() {
		sess.engine.Cancel()
		cancel()
		sess.runs.Wait()
		_ = conn.Close()
		sess.logger.Debug("websocket closed")
	}()

	sess.logger.Debug("websocket opened")
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				sess.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		sess.dispatch(ctx, msg)
	}
}

func (sess *session) dispatch(ctx context.Context, msg []byte) {
	var in inbound
	if err := json.Unmarshal(msg, &in); err != nil {
		sess.sendError("malformed message: " + err.Error())
		return
	}

	switch in.Action {
	case ActionExecute:
		if sess.engine.Running() {
			sess.sendError(MsgRunInProgress)
			return
		}
		def, err := graph.ParseGraph(in.Flow)
		if err != nil {
			sess.sendError(err.Error())
			return
		}
		// Reserve before handing off so a cancel read next hits this run.
		if err := sess.engine.Reserve(); err != nil {
			sess.sendError(MsgRunInProgress)
			return
		}
		sess.runs.Add(1)
		go func() {
			defer sess.runs.Done()
			res, err := sess.engine.Run(ctx, def)
			if err != nil && !errors.Is(err, context.Canceled) {
				sess.sendError(err.Error())
				return
			}
			if res != nil {
				sess.logger.Info("run finished",
					"run_id", res.RunID,
					"nodes", len(res.Order),
					"skipped", len(res.Skipped),
					"cancelled", res.Cancelled)
			}
		}()
	case ActionCancel:
		sess.engine.Cancel()
	default:
		sess.sendError(fmt.Sprintf("unknown action %q", in.Action))
	}
}

// send writes one event. Failures are logged; the read loop notices a dead
// connection on its own.
func (sess *session) send(ev emit.Event) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_ = sess.conn.SetWriteDeadline(time.Now().Add(sess.timeout))
	if err := sess.conn.WriteJSON(ev.Message()); err != nil {
		sess.logger.Debug("websocket write failed", "event", ev.Msg, "error", err)
	}
}

func (sess *session) sendError(msg string) {
	sess.send(emit.Event{Msg: emit.MsgError, Meta: map[string]any{"message": msg}})
}
