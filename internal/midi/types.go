package midi

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// ErrDeviceUnavailable は MIDI 出力デバイスが見つからない・開けない場合。
var ErrDeviceUnavailable = errors.New("MIDI出力デバイスを使用できません")

// Port はオープン済みの MIDI 出力ポート。
type Port struct {
	name  string
	send  func(msg gomidi.Message) error
	close func() error
	once  sync.Once
	err   error
}

// Name はポート名。
func (p *Port) Name() string { return p.name }

// Send は 1 メッセージを送る。
func (p *Port) Send(msg gomidi.Message) error {
	if err := p.send(msg); err != nil {
		return errors.Wrapf(err, "%s への送信に失敗", p.name)
	}
	return nil
}

// Close はポートとドライバを閉じる。2 回目以降は何もしない。
func (p *Port) Close() error {
	p.once.Do(func() {
		if p.close != nil {
			p.err = p.close()
		}
	})
	return p.err
}

// SelectPort は names から want に合うポートを選ぶ。
// 優先: 完全一致 → 部分一致（大文字小文字を無視）。want が空なら先頭。
func SelectPort(names []string, want string) (int, error) {
	if len(names) == 0 {
		return -1, errors.Wrap(ErrDeviceUnavailable, "MIDI出力デバイスがありません")
	}
	if want == "" {
		return 0, nil
	}
	if _, i, ok := lo.FindIndexOf(names, func(n string) bool { return n == want }); ok {
		return i, nil
	}
	lw := strings.ToLower(want)
	if _, i, ok := lo.FindIndexOf(names, func(n string) bool { return strings.Contains(strings.ToLower(n), lw) }); ok {
		return i, nil
	}
	return -1, errors.Wrapf(ErrDeviceUnavailable, "%q に一致するデバイスがありません (候補: %s)", want, strings.Join(names, ", "))
}

// outputDriver は出力ポートを列挙できるドライバ。*rtmididrv.Driver が満たす。
type outputDriver interface {
	Outs() ([]drivers.Out, error)
	Close() error
}

func portNames(outs []drivers.Out) []string {
	return lo.Map(outs, func(o drivers.Out, _ int) string { return o.String() })
}

// listFrom は drv の出力ポート名を返し、drv を閉じる。
func listFrom(drv outputDriver) ([]string, error) {
	defer drv.Close()
	outs, err := drv.Outs()
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "MIDI出力列挙に失敗: %v", err)
	}
	return portNames(outs), nil
}

// openFrom は drv から name に合うポートを開く。失敗時は drv を閉じる。
// 成功時の drv は返した Port の Close で閉じる。
func openFrom(drv outputDriver, name string) (*Port, error) {
	outs, err := drv.Outs()
	if err != nil {
		_ = drv.Close()
		return nil, errors.Wrapf(ErrDeviceUnavailable, "MIDI出力列挙に失敗: %v", err)
	}
	i, err := SelectPort(portNames(outs), name)
	if err != nil {
		_ = drv.Close()
		return nil, err
	}
	out := outs[i]
	send, err := gomidi.SendTo(out)
	if err != nil {
		_ = drv.Close()
		return nil, errors.Wrapf(ErrDeviceUnavailable, "出力オープン失敗 (%s): %v", out.String(), err)
	}
	return &Port{
		name: out.String(),
		send: send,
		close: func() error {
			err := out.Close()
			if cerr := drv.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}, nil
}
