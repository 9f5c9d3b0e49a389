// Package logging はアプリ全体で使う logrus ロガーを用意する。
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Setup は level のロガーを作る。端末に出すときだけ色を付ける。
func Setup(level string, out io.Writer) (*logrus.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	lv, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, errors.Errorf("log_level が不正です: %q (debug|info|warn|error)", level)
	}
	lg := logrus.New()
	lg.SetOutput(out)
	lg.SetLevel(lv)
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	lg.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
		ForceColors:     tty,
		DisableColors:   !tty,
	})
	return lg, nil
}
