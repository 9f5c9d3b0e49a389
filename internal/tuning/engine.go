package tuning

import (
	"jiperform/internal/event"
)

// Strategy はピッチクラス単位の音高（A = 1/1、オクターブ情報なし）を選ぶ方針。
// Choose は文脈を読むだけで、更新は Engine が行う。
type Strategy interface {
	Name() string
	Choose(ev event.Event, hc *HarmonicContext) Monzo
}

// Engine は NoteOn ごとに純正律の音高を決める。
type Engine struct {
	strategy      Strategy
	octaveReduced bool
}

// NewEngine は strategy を使うエンジンを作る。octaveReduced は可視化側の設定と揃えること。
func NewEngine(strategy Strategy, octaveReduced bool) *Engine {
	return &Engine{strategy: strategy, octaveReduced: octaveReduced}
}

// Strategy は使用中の方針を返す。
func (e *Engine) Strategy() Strategy { return e.strategy }

// Tune は NoteOn の音高を決め、hc の該当ピッチクラスだけを更新する。
// 同じピッチクラスが発音中なら、その音高をそのまま使う（同一チャンネルで別ベンドにできないため）。
// 偏差の上限はここでは強制しない。範囲外はチャンネル割り当て側でエラーになる。
func (e *Engine) Tune(ev event.Event, hc *HarmonicContext) TunedNote {
	hc.evict(ev.Time)

	pc := ev.PitchClass
	var m Monzo
	if hc.Sounding(pc) {
		m = hc.slots[pc].Pitch.Clone()
	} else {
		m = e.strategy.Choose(ev, hc)
	}
	hc.noteOn(pc, m, ev.Time)

	return TunedNote{
		PitchClass:     pc,
		Key:            ev.Key(),
		Time:           ev.Time,
		CentsDeviation: deviation(pc, m),
		Pitch:          JIPitch{Monzo: m.ShiftOctaves(ev.Octave), OctaveReduced: e.octaveReduced},
	}
}

// Release は NoteOff を文脈に反映する。
func (e *Engine) Release(ev event.Event, hc *HarmonicContext) {
	hc.noteOff(ev.PitchClass, ev.Time)
}
