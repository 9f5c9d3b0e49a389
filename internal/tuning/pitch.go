package tuning

import (
	"math"
	"strconv"
	"strings"
	"time"

	"jiperform/internal/event"
)

// JIPitch は純正律の音高を表す。A4 = 1/1 を原点とするモンゾで持つ。
// OctaveReduced は可視化側へ送る形式だけに影響し、セント計算には使わない。
type JIPitch struct {
	Monzo         Monzo
	OctaveReduced bool
}

// Wire は可視化クライアントへ送る指数ベクトル。
func (p JIPitch) Wire() Monzo {
	if p.OctaveReduced {
		return p.Monzo.OctaveReduced()
	}
	return p.Monzo.Clone()
}

// Equal はモードを揃えた上で指数ベクトルを比較する。
func (p JIPitch) Equal(o JIPitch) bool {
	if p.OctaveReduced != o.OctaveReduced {
		return false
	}
	return p.Wire().Equal(o.Wire())
}

// Cents は A4 からのセント値。
func (p JIPitch) Cents() float64 { return p.Monzo.Cents() }

// WireString は "a:b:c" 形式（可視化メッセージ用）。
func (p JIPitch) WireString() string {
	w := p.Wire()
	if len(w) == 0 {
		w = Monzo{0}
	}
	parts := make([]string, len(w))
	for i, e := range w {
		parts[i] = strconv.Itoa(e)
	}
	return strings.Join(parts, ":")
}

func (p JIPitch) String() string { return p.Monzo.RatioString() }

// TunedNote は NoteOn 1 件に対するチューニング結果。
type TunedNote struct {
	PitchClass     int
	Key            uint8
	Time           time.Duration
	CentsDeviation float64 // 12平均律からのずれ
	Pitch          JIPitch
}

// Name は "C4" のような音名。
func (n TunedNote) Name() string {
	return event.Note(event.NoteOn, n.Time, n.Key, 0).Name()
}

// normalize はピッチクラス pc の 12平均律位置 (100*pc セント) から ±600 セント以内になるよう
// オクターブをずらす。
func normalize(pc int, m Monzo) Monzo {
	center := 100 * float64(pc)
	k := int(math.Round((center - m.Cents()) / 1200))
	if k == 0 {
		return m.Clone()
	}
	return m.ShiftOctaves(k)
}

// deviation は A 基準のピッチクラス音高 m の 12平均律からのずれ。
func deviation(pc int, m Monzo) float64 {
	return m.Cents() - 100*float64(pc)
}
