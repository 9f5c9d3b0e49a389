package visualizer

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultAddr は格子ビジュアライザが接続しに来るアドレス。
const DefaultAddr = "127.0.0.1:8765"

const writeTimeout = 2 * time.Second

// Options はサーバー設定。
type Options struct {
	Addr   string
	Format Format
	Buffer int // クライアントごとの送信キュー長
	Log    *logrus.Logger
}

// Server はビジュアライザ向けの WebSocket サーバー。
// "/" で WebSocket を受け付け、"/status" で接続状況を返す。
type Server struct {
	e        *echo.Echo
	ln       net.Listener
	hub      *Hub
	format   Format
	log      *logrus.Entry
	upgrader websocket.Upgrader
	served   chan error

	closeOnce sync.Once
	closeErr  error
}

// Start はアドレスを bind してサーバーを起動する。bind に失敗したら即座にエラーを返す。
func Start(opts Options) (*Server, error) {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	lg := opts.Log
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "ビジュアライザ用アドレス %s を使用できません", opts.Addr)
	}

	s := &Server{
		e:      echo.New(),
		ln:     ln,
		hub:    NewHub(opts.Buffer),
		format: opts.Format,
		log:    lg.WithField("component", "visualizer"),
		upgrader: websocket.Upgrader{
			// ブラウザの file:// から開かれることがあるため Origin は見ない
			CheckOrigin: func(*http.Request) bool { return true },
		},
		served: make(chan error, 1),
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Listener = ln
	s.e.GET("/", s.handleStream)
	s.e.GET("/status", s.handleStatus)

	go func() {
		err := s.e.Start("")
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.served <- err
	}()
	s.log.WithField("addr", s.Addr()).Info("ビジュアライザサーバーを起動しました")
	return s, nil
}

// Addr は実際に bind したアドレス。
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Clients は接続中のクライアント数。
func (s *Server) Clients() int { return s.hub.Count() }

// Hub は配信キュー。
func (s *Server) Hub() *Hub { return s.hub }

// Publish は全クライアントへ m を送る。停止後は ErrClosed。
func (s *Server) Publish(m Message) error {
	payload, err := m.Encode(s.format)
	if err != nil {
		return err
	}
	return s.hub.Broadcast(payload)
}

// Close は全接続を閉じてサーバーを止める。2 回目以降は 1 回目の結果を返す。
func (s *Server) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.hub.Close()
		if err := s.e.Shutdown(ctx); err != nil {
			s.closeErr = errors.Wrap(err, "ビジュアライザサーバーの停止に失敗")
			return
		}
		select {
		case s.closeErr = <-s.served:
		case <-ctx.Done():
			s.closeErr = ctx.Err()
		}
	})
	return s.closeErr
}

func (s *Server) handleStream(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade が応答済み
		s.log.WithError(err).Warn("WebSocket のハンドシェイクに失敗しました")
		return nil
	}
	cl, err := s.hub.subscribe(c.RealIP())
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		conn.Close()
		return nil
	}
	lg := s.log.WithFields(logrus.Fields{"client": cl.id.String(), "remote": cl.remote})
	lg.WithField("clients", s.hub.Count()).Info("ビジュアライザが接続しました")

	// 読み取りはクローズ検知のためだけ
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.hub.unsubscribe(cl)
		conn.Close()
		lg.Info("ビジュアライザが切断しました")
	}()
	for {
		select {
		case payload, ok := <-cl.send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "playback finished"),
					time.Now().Add(writeTimeout))
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				lg.WithError(err).Warn("送信に失敗したため接続を閉じます")
				return nil
			}
		case <-gone:
			return nil
		}
	}
}

type status struct {
	Addr    string `json:"addr"`
	Clients int    `json:"clients"`
	Sent    int64  `json:"sent"`
	Dropped int64  `json:"dropped"`
	Format  string `json:"format"`
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, status{
		Addr:    s.Addr(),
		Clients: s.hub.Count(),
		Sent:    s.hub.Sent(),
		Dropped: s.hub.Dropped(),
		Format:  s.format.String(),
	})
}
