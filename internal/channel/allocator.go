package channel

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"jiperform/internal/event"
	"jiperform/internal/tuning"
)

const (
	// Count はピッチクラス用チャンネル数。チャンネル 1〜12 を使う。
	Count = 12
	// DefaultBendRange は音源側のピッチベンド幅（半音）。
	DefaultBendRange = 4.0

	bendMax = 8191
	bendMin = -8192
)

// ErrChannelBusy は発音中のチャンネルに別のベンド値が必要になった場合。
var ErrChannelBusy = errors.New("発音中のチャンネルに異なるピッチベンドは設定できません")

// RangeError は必要な偏差がピッチベンド幅を超えた場合のエラー。演奏全体を中止する。
type RangeError struct {
	PitchClass int
	Key        uint8
	Time       time.Duration
	Cents      float64
	Range      float64 // 半音
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("ピッチベンド幅 (±%g 半音) を超えています: %s (key=%d, pc=%s) @ %.3fs に %+.1f セントが必要",
		e.Range, noteName(e.Key), e.Key, event.PitchClassNames[e.PitchClass], e.Time.Seconds(), e.Cents)
}

// Assignment は NoteOn の送信先。
type Assignment struct {
	Channel     int   // 1〜12
	Bend        int16 // -8192〜8191
	BendChanged bool  // NoteOn の前にベンドを送る必要がある
}

// Wire は 0 始まりの MIDI チャンネル番号。
func (a Assignment) Wire() uint8 { return uint8(a.Channel - 1) }

// State はチャンネル 1 つ分の状態。
type State struct {
	Channel    int
	PitchClass int // 固定。Channel-1 と同じ
	Voices     int
	Bend       int16
	BendKnown  bool
	LastCents  float64
}

// Occupied は発音中かどうか。
func (s State) Occupied() bool { return s.Voices > 0 }

// Allocator はピッチクラスを固定チャンネルに割り当て、偏差をベンド値に変換する。
// 再生スレッドだけが使う。
type Allocator struct {
	bendRange float64
	ccMode    CCMode
	states    [Count]State
}

// New はベンド幅 bendRange（半音）の割り当て器を作る。
func New(bendRange float64, mode CCMode) (*Allocator, error) {
	if bendRange < 0 || math.IsNaN(bendRange) || math.IsInf(bendRange, 0) {
		return nil, errors.Errorf("ピッチベンド幅が不正です: %v", bendRange)
	}
	a := &Allocator{bendRange: bendRange, ccMode: mode}
	for pc := range a.states {
		a.states[pc] = State{Channel: ChannelFor(pc), PitchClass: pc}
	}
	return a, nil
}

// ChannelFor はピッチクラス pc の固定チャンネル（1 始まり）。
func ChannelFor(pc int) int { return pc + 1 }

// BendRange は設定されたベンド幅（半音）。
func (a *Allocator) BendRange() float64 { return a.bendRange }

// Allocate は NoteOn のチャンネルとベンド値を決める。エラー時は状態を変えない。
func (a *Allocator) Allocate(n tuning.TunedNote) (Assignment, error) {
	bend, err := BendValue(n.CentsDeviation, a.bendRange)
	if err != nil {
		return Assignment{}, &RangeError{
			PitchClass: n.PitchClass,
			Key:        n.Key,
			Time:       n.Time,
			Cents:      n.CentsDeviation,
			Range:      a.bendRange,
		}
	}
	s := &a.states[n.PitchClass]
	if s.Occupied() && s.BendKnown && s.Bend != bend {
		return Assignment{}, errors.Wrapf(ErrChannelBusy, "channel %d: %d -> %d", s.Channel, s.Bend, bend)
	}
	changed := !s.BendKnown || s.Bend != bend
	s.Voices++
	s.Bend = bend
	s.BendKnown = true
	s.LastCents = n.CentsDeviation
	return Assignment{Channel: s.Channel, Bend: bend, BendChanged: changed}, nil
}

// Release は NoteOff でチャンネルを空ける。ベンドは戻さない。
func (a *Allocator) Release(pc int) Assignment {
	s := &a.states[pc]
	if s.Voices > 0 {
		s.Voices--
	}
	return Assignment{Channel: s.Channel, Bend: s.Bend}
}

// Centered は全チャンネルのベンドが中央に戻されたことを記録する（リセット送信後に呼ぶ）。
func (a *Allocator) Centered() {
	for pc := range a.states {
		a.states[pc].Bend = 0
		a.states[pc].BendKnown = true
		a.states[pc].Voices = 0
	}
}

// Sounding は発音中のチャンネル。
func (a *Allocator) Sounding() []int {
	var out []int
	for _, s := range a.states {
		if s.Occupied() {
			out = append(out, s.Channel)
		}
	}
	return out
}

// States は全チャンネルの状態のコピー。
func (a *Allocator) States() [Count]State { return a.states }

// CCChannels はコントロールチェンジを送るチャンネル（1 始まり）。
func (a *Allocator) CCChannels() []int {
	if a.ccMode == CCSingle {
		return []int{1}
	}
	out := make([]int, Count)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// BendValue はセント偏差を 14bit ベンド値（-8192〜8191、0 が中央）に変換する。
func BendValue(cents, bendRange float64) (int16, error) {
	if math.IsNaN(cents) || math.IsInf(cents, 0) {
		return 0, errors.Errorf("偏差が有限ではありません: %v", cents)
	}
	if cents == 0 {
		return 0, nil
	}
	if math.Abs(cents) > bendRange*100 {
		return 0, errors.Errorf("%.1f セントは ±%g 半音を超えます", cents, bendRange)
	}
	v := math.Round(cents / (bendRange * 100) * 8192)
	if v > bendMax {
		v = bendMax
	}
	if v < bendMin {
		v = bendMin
	}
	return int16(v), nil
}

// Cents は BendValue の逆変換。
func Cents(bend int16, bendRange float64) float64 {
	return float64(bend) / 8192 * bendRange * 100
}

func noteName(key uint8) string {
	return event.Note(event.NoteOn, 0, key, 0).Name()
}
