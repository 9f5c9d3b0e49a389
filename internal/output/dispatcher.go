package output

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"

	"jiperform/internal/channel"
	"jiperform/internal/event"
	"jiperform/internal/tuning"
	"jiperform/internal/visualizer"
)

const (
	ccAllSoundOff     = 120
	ccResetAll        = 121
	ccAllNotesOff     = 123
	midiChannelsTotal = 16
)

// Options は Dispatcher の出力先。少なくとも一方が必要。
type Options struct {
	MIDI       MIDISink
	Visualizer VisualizerSink
	Log        *logrus.Logger
}

// Stats は送信件数。
type Stats struct {
	MIDIMessages     int
	VisualizerEvents int
	VisualizerFailed bool
}

// Dispatcher は調律済みのイベントを MIDI とビジュアライザへ振り分ける。
// 同じイベントについては MIDI を先に送る。
type Dispatcher struct {
	mu    sync.Mutex
	midi  MIDISink
	vis   VisualizerSink
	log   *logrus.Entry
	stats Stats
}

// New は Dispatcher を作る。
func New(opts Options) (*Dispatcher, error) {
	if opts.MIDI == nil && opts.Visualizer == nil {
		return nil, errors.New("MIDI とビジュアライザの少なくとも一方を有効にしてください")
	}
	lg := opts.Log
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &Dispatcher{midi: opts.MIDI, vis: opts.Visualizer, log: lg.WithField("component", "output")}, nil
}

// Begin は再生開始を録音などに伝える。
func (d *Dispatcher) Begin(at time.Time) {
	if b, ok := d.midi.(beginner); ok {
		b.Begin(at)
	}
}

// NoteOn は必要ならピッチベンドを送ってから NoteOn を送る。
func (d *Dispatcher) NoteOn(ev event.Event, tn tuning.TunedNote, as channel.Assignment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if as.BendChanged {
		if err := d.sendMIDI(midi.Pitchbend(as.Wire(), as.Bend)); err != nil {
			return err
		}
	}
	if err := d.sendMIDI(midi.NoteOn(as.Wire(), tn.Key, ev.Velocity)); err != nil {
		return err
	}
	return d.publish(visualizer.NoteOn(ev, tn))
}

// NoteOff は NoteOff をリリースベロシティ付きで送る。
func (d *Dispatcher) NoteOff(ev event.Event, as channel.Assignment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.sendMIDI(midi.NoteOffVelocity(as.Wire(), ev.Key(), ev.Velocity)); err != nil {
		return err
	}
	return d.publish(visualizer.NoteOff(ev))
}

// ControlChange は CC を channels（1 始まり）へ送る。
func (d *Dispatcher) ControlChange(ev event.Event, channels []int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range channels {
		if err := d.sendMIDI(midi.ControlChange(uint8(ch-1), ev.Controller, ev.Value)); err != nil {
			return err
		}
	}
	return d.publish(visualizer.CC(ev.Controller, ev.Value))
}

// Reset は全チャンネルの音を止め、コントローラとベンドを初期状態に戻す。
// 失敗しても残りのチャンネルへの送信は続け、最初のエラーを返す。
func (d *Dispatcher) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if d.midi != nil {
		for ch := uint8(0); ch < midiChannelsTotal; ch++ {
			keep(d.sendMIDI(midi.ControlChange(ch, ccResetAll, 0)))
			keep(d.sendMIDI(midi.ControlChange(ch, ccAllNotesOff, 0)))
			keep(d.sendMIDI(midi.Pitchbend(ch, 0)))
		}
	}
	keep(d.publish(visualizer.CC(ccResetAll, 0)))
	keep(d.publish(visualizer.CC(ccAllNotesOff, 0)))
	return first
}

// Panic は Reset に加えて All Sound Off を送る（中断時用）。
func (d *Dispatcher) Panic() error {
	err := d.Reset()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.midi == nil {
		return err
	}
	for ch := uint8(0); ch < midiChannelsTotal; ch++ {
		if e := d.sendMIDI(midi.ControlChange(ch, ccAllSoundOff, 0)); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Stats は送信件数のスナップショット。
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// HasVisualizer はビジュアライザへの送信が生きているか。
func (d *Dispatcher) HasVisualizer() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vis != nil
}

func (d *Dispatcher) sendMIDI(msg midi.Message) error {
	if d.midi == nil {
		return nil
	}
	if err := d.midi.Send(msg); err != nil {
		return &SinkError{Sink: "midi", Err: err}
	}
	d.stats.MIDIMessages++
	return nil
}

// publish はビジュアライザへ送る。MIDI があるならビジュアライザの失敗は警告にとどめ、以後は送らない。
func (d *Dispatcher) publish(m visualizer.Message) error {
	if d.vis == nil {
		return nil
	}
	if err := d.vis.Publish(m); err != nil {
		if d.midi == nil {
			return &SinkError{Sink: "visualizer", Err: err}
		}
		d.log.WithError(err).Warn("ビジュアライザへの送信に失敗しました。以後は MIDI のみで続行します")
		d.vis = nil
		d.stats.VisualizerFailed = true
		return nil
	}
	d.stats.VisualizerEvents++
	return nil
}
