package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aixgo-dev/embedchat/pkg/chat"
	"github.com/aixgo-dev/embedchat/pkg/configstore"
)

// Socket frame types.
const (
	frameMessage    = "message"
	frameTranscript = "transcript"
	frameBusy       = "busy"
	frameError      = "error"
)

// inboundFrame is sent by the chat page.
type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// outboundFrame is sent to the chat page. A transcript frame always carries
// the whole transcript; an error frame carries whether a turn is still
// running.
type outboundFrame struct {
	Type     string         `json:"type"`
	Messages []chat.Message `json:"messages,omitempty"`
	Busy     bool           `json:"busy,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// chatSocket binds a websocket to a new chat session. Closing the socket
// closes the session.
func (s *Server) chatSocket(c echo.Context) error {
	ctx := c.Request().Context()
	cfg, err := s.store.Get(ctx, c.Param("configId"))
	if err != nil {
		if errors.Is(err, configstore.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody(msgConfigNotFound))
		}
		return err
	}

	sess, err := s.sessions.Create(cfg.ID, cfg.Credentials())
	if err != nil {
		if errors.Is(err, chat.ErrTooManySessions) {
			return c.JSON(http.StatusServiceUnavailable, errorBody(msgTooManySessions))
		}
		return err
	}

	addr := c.RealIP()
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already wrote the error response.
		log.Warn().Err(err).Str("config_id", cfg.ID).Msg("websocket upgrade failed")
		_ = s.sessions.Close(context.Background(), sess.ID())
		return nil
	}

	sock := &socket{
		conn:     conn,
		sess:     sess,
		sessions: s.sessions,
		cfg:      s.opts.WebSocket,
		allow:    func() bool { return s.allowMessage(addr) },
		send:     make(chan outboundFrame, 16),
		done:     make(chan struct{}),
		logger: log.With().
			Str("config_id", cfg.ID).
			Str("session_id", sess.ID()).
			Logger(),
	}
	sock.run()
	return nil
}

type socket struct {
	conn     *websocket.Conn
	sess     *chat.Session
	sessions chat.Manager
	cfg      WebSocketConfig
	allow    func() bool
	logger   zerolog.Logger

	send      chan outboundFrame
	done      chan struct{}
	closeOnce sync.Once
	turns     sync.WaitGroup
}

// run serves the socket until the peer goes away or the session is closed.
func (s *socket) run() {
	s.logger.Debug().Msg("chat socket opened")
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()

	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		if _, err := s.sess.Open(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("open chat session")
		}
		s.push(outboundFrame{Type: frameTranscript, Messages: s.sess.Transcript()})
	}()

	s.readPump()

	s.shutdown()
	_ = s.sessions.Close(context.Background(), s.sess.ID())
	s.turns.Wait()
	<-writerDone
	s.logger.Debug().Msg("chat socket closed")
}

func (s *socket) readPump() {
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("chat socket read")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		var in inboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			s.pushError("invalid JSON message")
			continue
		}
		if in.Type != frameMessage {
			s.pushError("unknown message type: " + in.Type)
			continue
		}
		if s.sess.Closed() {
			return
		}
		if !s.allow() {
			s.pushError(msgRateLimited)
			continue
		}
		s.submit(in.Text)
	}
}

// submit runs a turn without blocking the read loop, so a socket that goes
// away mid-turn closes the session and stops polling.
func (s *socket) submit(text string) {
	s.turns.Add(1)
	go func() {
		defer s.turns.Done()

		_, err := s.sess.SubmitNotify(context.Background(), text, func() {
			s.push(outboundFrame{Type: frameBusy, Busy: true})
		})
		switch {
		case errors.Is(err, chat.ErrBusy), errors.Is(err, chat.ErrEmptyMessage):
			s.pushError(err.Error())
			return
		case errors.Is(err, chat.ErrClosed):
			s.shutdown()
			return
		case err != nil:
			s.logger.Warn().Err(err).Msg("chat turn failed")
		}
		s.push(outboundFrame{Type: frameTranscript, Messages: s.sess.Transcript()})
	}()
}

func (s *socket) push(f outboundFrame) {
	select {
	case s.send <- f:
	case <-s.done:
	}
}

// pushError reports a rejected frame. Busy mirrors the session so a
// rejection does not re-enable input while another turn runs.
func (s *socket) pushError(msg string) {
	s.push(outboundFrame{Type: frameError, Error: msg, Busy: s.sess.Pending()})
}

func (s *socket) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case f := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteJSON(f); err != nil {
				s.logger.Debug().Err(err).Msg("chat socket write")
				s.shutdown()
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown()
				return
			}

		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// shutdown stops the writer, which closes the connection and unblocks the
// reader.
func (s *socket) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
