// Package obsws は演奏の前後に OBS のシーン切替と録画を行う。
package obsws

import (
	"time"

	"github.com/andreykaipov/goobs"
	"github.com/andreykaipov/goobs/api/requests/scenes"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout は OBS への 1 リクエストの待ち時間。
const DefaultTimeout = 5 * time.Second

// Options は OBS 連携の設定。
type Options struct {
	Addr     string
	Password string
	Scene    string // 空なら切り替えない
	Record   bool
	Timeout  time.Duration
	Log      *logrus.Logger
}

// controller は Session が使う OBS 操作。
type controller interface {
	SetScene(name string) error
	StartRecord() error
	StopRecord() (string, error)
	Disconnect() error
}

type goobsController struct{ c *goobs.Client }

func (g goobsController) SetScene(name string) error {
	_, err := g.c.Scenes.SetCurrentProgramScene(&scenes.SetCurrentProgramSceneParams{SceneName: &name})
	return err
}

func (g goobsController) StartRecord() error {
	_, err := g.c.Record.StartRecord()
	return err
}

func (g goobsController) StopRecord() (string, error) {
	res, err := g.c.Record.StopRecord()
	if err != nil {
		return "", err
	}
	return res.OutputPath, nil
}

func (g goobsController) Disconnect() error { return g.c.Disconnect() }

// Session は 1 回の再生に対応する OBS 接続。
type Session struct {
	opts      Options
	ctl       controller
	log       *logrus.Entry
	recording bool
}

// Connect は OBS に接続する。
func Connect(opts Options) (*Session, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	addr := NormalizeAddr(opts.Addr)
	var c *goobs.Client
	err := withTimeout(func() error {
		var err error
		if opts.Password == "" {
			c, err = goobs.New(addr)
		} else {
			c, err = goobs.New(addr, goobs.WithPassword(opts.Password))
		}
		return err
	}, opts.Timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "OBS への接続に失敗しました: ws://%s", addr)
	}
	s := newSession(opts, goobsController{c})
	s.log.WithField("addr", addr).Info("OBS に接続しました")
	return s, nil
}

func newSession(opts Options, ctl controller) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	lg := opts.Log
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &Session{opts: opts, ctl: ctl, log: lg.WithField("component", "obs")}
}

// Begin は再生直前に呼ぶ。シーンを切り替え、必要なら録画を始める。
func (s *Session) Begin() error {
	if s.opts.Scene != "" {
		if err := withTimeout(func() error { return s.ctl.SetScene(s.opts.Scene) }, s.opts.Timeout); err != nil {
			return errors.Wrapf(err, "SetCurrentProgramScene 失敗 (%s)", s.opts.Scene)
		}
		s.log.WithField("scene", s.opts.Scene).Info("シーン切替完了")
	}
	if s.opts.Record {
		if err := withTimeout(s.ctl.StartRecord, s.opts.Timeout); err != nil {
			return errors.Wrap(err, "録画開始に失敗")
		}
		s.recording = true
		s.log.Info("録画を開始しました")
	}
	return nil
}

// End は録画を止めて切断する。再生が中断された場合も呼ぶこと。
func (s *Session) End() error {
	var first error
	if s.recording {
		var path string
		err := withTimeout(func() error {
			var err error
			path, err = s.ctl.StopRecord()
			return err
		}, s.opts.Timeout)
		if err != nil {
			first = errors.Wrap(err, "録画停止に失敗")
		} else {
			s.recording = false
			s.log.WithField("path", path).Info("録画を停止しました")
		}
	}
	if err := s.ctl.Disconnect(); err != nil && first == nil {
		first = errors.Wrap(err, "OBS の切断に失敗")
	}
	return first
}

// withTimeout は goobs のリクエストにタイムアウトが無いため goroutine でラップする。
func withTimeout(fn func() error, d time.Duration) error {
	if d <= 0 {
		return fn()
	}
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	select {
	case err := <-ch:
		return err
	case <-time.After(d):
		return errors.Errorf("timeout after %s", d)
	}
}
