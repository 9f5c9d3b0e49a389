// Package player はイベント列を実時間で再生する。
// 調律・チャンネル割り当て・出力はすべて再生ゴルーチン上で行う。
package player

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"jiperform/internal/channel"
	"jiperform/internal/clock"
	"jiperform/internal/event"
	"jiperform/internal/tuning"
)

// State は再生の状態。
type State int

const (
	Idle State = iota
	Running
	Finished
	Aborted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Aborted:
		return "aborted"
	default:
		return "idle"
	}
}

// LateThreshold を超えた遅れを集計する。
const LateThreshold = time.Millisecond

const lateLogInterval = time.Second

// ErrAlreadyRun は Run を 2 回呼んだ場合。
var ErrAlreadyRun = errors.New("この Player は既に再生済みです")

// Output は Player が使う出力先。output.Dispatcher が満たす。
type Output interface {
	Begin(at time.Time)
	NoteOn(ev event.Event, tn tuning.TunedNote, as channel.Assignment) error
	NoteOff(ev event.Event, as channel.Assignment) error
	ControlChange(ev event.Event, channels []int) error
	Reset() error
	Panic() error
}

// Options は Player の構成。
type Options struct {
	Engine    *tuning.Engine
	Context   *tuning.HarmonicContext
	Allocator *channel.Allocator
	Output    Output
	Clock     clock.Clock
	Waiter    clock.Waiter

	StartFrom time.Duration // これより前のノートは鳴らさない
	Speed     float64       // 1.0 で等速
	Log       *logrus.Logger

	// Trace は NoteOn ごとに呼ばれる（-debug の表示用）。
	Trace func(tn tuning.TunedNote, as channel.Assignment)
}

// Stats は再生結果の集計。
type Stats struct {
	NotesOn      int
	NotesOff     int
	Controls     int
	Skipped      int
	Late         int
	MaxLateness  time.Duration
	TotalLate    time.Duration
	Elapsed      time.Duration
	LastPosition time.Duration
}

// Player は 1 回分の再生。
type Player struct {
	opts Options
	log  *logrus.Entry

	mu    sync.Mutex
	state State
	stats Stats

	// 鳴らしたキーごとの発音数。StartFrom 前に飛ばしたノートの NoteOff を送らないため。
	active  map[uint8]int
	lateLog func(func())
	// 遅延警告は lateLogInterval に 1 回まで。間の遅れは次の警告か終了時にまとめる。
	lastWarn   time.Time
	warnedLate int
}

// New は Player を作る。
func New(opts Options) (*Player, error) {
	if opts.Engine == nil || opts.Allocator == nil || opts.Output == nil {
		return nil, errors.New("player: Engine / Allocator / Output は必須です")
	}
	if opts.Speed == 0 {
		opts.Speed = 1
	}
	if opts.Speed < 0 {
		return nil, errors.Errorf("再生速度が不正です: %v", opts.Speed)
	}
	if opts.StartFrom < 0 {
		return nil, errors.Errorf("開始位置が不正です: %v", opts.StartFrom)
	}
	if opts.Context == nil {
		opts.Context = tuning.NewHarmonicContext(tuning.DefaultHalfLife)
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Waiter == nil {
		opts.Waiter = clock.NewSpinWaiter(clock.DefaultSpinWindow)
	}
	lg := opts.Log
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &Player{
		opts:    opts,
		log:     lg.WithField("component", "player"),
		active:  make(map[uint8]int),
		lateLog: debounce.New(lateLogInterval),
	}, nil
}

// State は現在の状態。
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats は集計のスナップショット。
func (p *Player) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run は events を先頭から再生する。各イベントの予定時刻は開始時刻からの絶対位置で決まり、
// 前のイベントの遅れは後に持ち越さない。ctx が終わるかエラーが起きたら全音を止めて戻る。
func (p *Player) Run(ctx context.Context, events iter.Seq[event.Event]) error {
	p.mu.Lock()
	if p.state != Idle {
		p.mu.Unlock()
		return ErrAlreadyRun
	}
	p.state = Running
	p.mu.Unlock()

	if err := p.opts.Output.Reset(); err != nil {
		return p.abort(errors.Wrap(err, "再生前のリセットに失敗"))
	}
	p.opts.Allocator.Centered()

	start := p.opts.Clock.Now()
	p.opts.Output.Begin(start)
	p.log.WithFields(logrus.Fields{
		"start_from": p.opts.StartFrom,
		"speed":      p.opts.Speed,
		"strategy":   p.opts.Engine.Strategy().Name(),
	}).Debug("再生を開始します")

	for ev := range events {
		if err := ctx.Err(); err != nil {
			return p.abort(err)
		}
		if ev.Time < p.opts.StartFrom {
			if err := p.catchUp(ev); err != nil {
				return p.abort(err)
			}
			continue
		}
		target := start.Add(p.offset(ev.Time))
		if err := p.opts.Waiter.Wait(ctx, target); err != nil {
			return p.abort(err)
		}
		p.observe(p.opts.Clock.Now().Sub(target))
		if err := p.dispatch(ev); err != nil {
			return p.abort(err)
		}
		p.mu.Lock()
		p.stats.LastPosition = ev.Time
		p.mu.Unlock()
	}

	p.flushLate()
	err := p.opts.Output.Reset()
	p.mu.Lock()
	p.state = Finished
	p.stats.Elapsed = p.opts.Clock.Now().Sub(start)
	p.mu.Unlock()
	p.summary()
	return errors.Wrap(err, "再生後のリセットに失敗")
}

func (p *Player) offset(at time.Duration) time.Duration {
	return time.Duration(float64(at-p.opts.StartFrom) / p.opts.Speed)
}

// catchUp は開始位置より前のイベントを処理する。ノートは飛ばし、CC（ペダル等）は即座に送る。
func (p *Player) catchUp(ev event.Event) error {
	if ev.Kind == event.ControlChange {
		return p.dispatch(ev)
	}
	p.mu.Lock()
	p.stats.Skipped++
	p.mu.Unlock()
	return nil
}

func (p *Player) dispatch(ev event.Event) error {
	switch ev.Kind {
	case event.NoteOn:
		tn := p.opts.Engine.Tune(ev, p.opts.Context)
		as, err := p.opts.Allocator.Allocate(tn)
		if err != nil {
			return err
		}
		if p.opts.Trace != nil {
			p.opts.Trace(tn, as)
		}
		if err := p.opts.Output.NoteOn(ev, tn, as); err != nil {
			return err
		}
		p.active[ev.Key()]++
		p.count(func(s *Stats) { s.NotesOn++ })
	case event.NoteOff:
		key := ev.Key()
		if p.active[key] == 0 {
			return nil
		}
		p.active[key]--
		p.opts.Engine.Release(ev, p.opts.Context)
		as := p.opts.Allocator.Release(ev.PitchClass)
		if err := p.opts.Output.NoteOff(ev, as); err != nil {
			return err
		}
		p.count(func(s *Stats) { s.NotesOff++ })
	case event.ControlChange:
		if err := p.opts.Output.ControlChange(ev, p.opts.Allocator.CCChannels()); err != nil {
			return err
		}
		p.count(func(s *Stats) { s.Controls++ })
	}
	return nil
}

func (p *Player) count(f func(*Stats)) {
	p.mu.Lock()
	f(&p.stats)
	p.mu.Unlock()
}

// observe は遅れを集計し、まとめて警告する。
func (p *Player) observe(late time.Duration) {
	if late <= LateThreshold {
		return
	}
	p.mu.Lock()
	p.stats.Late++
	p.stats.TotalLate += late
	if late > p.stats.MaxLateness {
		p.stats.MaxLateness = late
	}
	p.mu.Unlock()
	now := p.opts.Clock.Now()
	if p.lastWarn.IsZero() || now.Sub(p.lastWarn) >= lateLogInterval {
		p.lastWarn = now
		p.lateLog(func() {})
		p.warnLate()
		return
	}
	p.lateLog(p.warnLate)
}

// warnLate は前回の警告以降に遅れたイベントがあれば警告する。
func (p *Player) warnLate() {
	p.mu.Lock()
	st := p.stats
	fresh := st.Late - p.warnedLate
	p.warnedLate = st.Late
	p.mu.Unlock()
	if fresh <= 0 {
		return
	}
	p.log.WithFields(logrus.Fields{
		"late_events": st.Late,
		"max":         st.MaxLateness.Round(time.Microsecond),
	}).Warn("再生が予定時刻から遅れています")
}

// flushLate は保留中の警告を取り消し、未報告の遅れをすぐ出す。
func (p *Player) flushLate() {
	p.lateLog(func() {})
	p.warnLate()
}

func (p *Player) abort(cause error) error {
	p.flushLate()
	if err := p.opts.Output.Panic(); err != nil {
		p.log.WithError(err).Error("中断時の消音に失敗しました")
	}
	p.opts.Allocator.Centered()
	p.opts.Context.Reset()
	p.mu.Lock()
	p.state = Aborted
	p.mu.Unlock()
	p.summary()
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return errors.Wrap(cause, "再生を中断しました")
	}
	return cause
}

func (p *Player) summary() {
	st := p.Stats()
	entry := p.log.WithFields(logrus.Fields{
		"state":    p.State().String(),
		"notes":    st.NotesOn,
		"controls": st.Controls,
		"skipped":  st.Skipped,
		"late":     st.Late,
		"max_late": st.MaxLateness.Round(time.Microsecond),
		"position": st.LastPosition.Round(time.Millisecond),
	})
	if st.Late > 0 {
		entry.Warn("再生が終了しました（遅延あり）")
		return
	}
	entry.Info("再生が終了しました")
}
