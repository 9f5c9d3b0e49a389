package output

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"

	"jiperform/internal/visualizer"
)

// ErrSinkDisconnected は出力先が使えなくなったことを表す。
var ErrSinkDisconnected = errors.New("出力先との接続が切れました")

// SinkError は出力先ごとの送信失敗。errors.Is(err, ErrSinkDisconnected) が真になる。
type SinkError struct {
	Sink string // "midi" または "visualizer"
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s 出力に失敗しました: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

func (e *SinkError) Is(target error) bool { return target == ErrSinkDisconnected }

// MIDISink は MIDI メッセージの送信先。送信は短時間ならブロックしてよい。
type MIDISink interface {
	Send(msg midi.Message) error
	Close() error
}

// VisualizerSink はビジュアライザへの送信先。ブロックしないこと。
type VisualizerSink interface {
	Publish(m visualizer.Message) error
}

// beginner は再生開始時刻を知りたい出力先（録音など）。
type beginner interface {
	Begin(at time.Time)
}

// Tee は複数の MIDI 出力先へ同じメッセージを送る。
type Tee []MIDISink

func (t Tee) Send(msg midi.Message) error {
	for i, s := range t {
		if err := s.Send(msg); err != nil {
			return errors.Wrapf(err, "出力先 %d", i)
		}
	}
	return nil
}

func (t Tee) Close() error {
	var first error
	for _, s := range t {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t Tee) Begin(at time.Time) {
	for _, s := range t {
		if b, ok := s.(beginner); ok {
			b.Begin(at)
		}
	}
}

// Discard はメッセージを捨てる MIDI 出力先（試走用）。
type Discard struct{}

func (Discard) Send(midi.Message) error { return nil }
func (Discard) Close() error { return nil }
