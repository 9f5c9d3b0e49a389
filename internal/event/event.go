package event

import (
	"fmt"
	"iter"
	"slices"
	"time"
)

// Kind はイベント種別。
type Kind int

const (
	NoteOn Kind = iota
	NoteOff
	ControlChange
)

func (k Kind) String() string {
	switch k {
	case NoteOn:
		return "note_on"
	case NoteOff:
		return "note_off"
	case ControlChange:
		return "control_change"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// A4 の MIDI ノート番号。ピッチクラスとオクターブはここを基準に数える。
const A4 = 69

// PitchClassNames は A を 0 とした 12 音名。
var PitchClassNames = [12]string{"A", "Bb", "B", "C", "C#", "D", "Eb", "E", "F", "F#", "G", "G#"}

// Event はデコード済みの演奏イベント。生成後は変更しない。
//
// Kind ごとに意味を持つフィールドが決まっている:
//   - NoteOn / NoteOff: PitchClass, Octave, Velocity
//   - ControlChange: Controller, Value
type Event struct {
	Time       time.Duration // 再生開始からのオフセット
	Kind       Kind
	PitchClass int // 0=A .. 11=G#
	Octave     int // A4 からのオクターブ数（床除算）
	Velocity   uint8
	Controller uint8
	Value      uint8
}

// Note は MIDI キー番号からノートイベントを作る。
func Note(kind Kind, at time.Duration, key, velocity uint8) Event {
	pc, oct := SplitKey(key)
	return Event{Time: at, Kind: kind, PitchClass: pc, Octave: oct, Velocity: velocity}
}

// CC はコントロールチェンジイベントを作る。
func CC(at time.Duration, controller, value uint8) Event {
	return Event{Time: at, Kind: ControlChange, Controller: controller, Value: value}
}

// SplitKey は MIDI キーを (ピッチクラス, A4 からのオクターブ) に分解する。
func SplitKey(key uint8) (pitchClass, octave int) {
	steps := int(key) - A4
	octave = floorDiv(steps, 12)
	pitchClass = steps - octave*12
	return pitchClass, octave
}

// Key は元の MIDI キー番号を返す。
func (e Event) Key() uint8 {
	return uint8(A4 + e.Octave*12 + e.PitchClass)
}

// EdoStepsFromA4 は A4 からの 12 平均律半音数。
func (e Event) EdoStepsFromA4() int {
	return e.Octave*12 + e.PitchClass
}

// Name は "C#4" のような表記を返す（科学的音名のオクターブ）。
func (e Event) Name() string {
	return fmt.Sprintf("%s%d", PitchClassNames[e.PitchClass], int(e.Key())/12-1)
}

func (e Event) String() string {
	switch e.Kind {
	case ControlChange:
		return fmt.Sprintf("[%9.3fs] cc %d=%d", e.Time.Seconds(), e.Controller, e.Value)
	default:
		return fmt.Sprintf("[%9.3fs] %s %s vel=%d", e.Time.Seconds(), e.Kind, e.Name(), e.Velocity)
	}
}

// Performance はファイルから読み込んだ時間順イベント列。
type Performance struct {
	Path   string
	Events []Event
	Texts  []Text
	Tracks int
}

// Text はテキスト系メタイベント（トラック名・マーカー等）。
type Text struct {
	Time time.Duration
	Text string
}

// All はイベント列を先頭から順に返す。
func (p *Performance) All() iter.Seq[Event] {
	return slices.Values(p.Events)
}

// Duration は最後のイベントの時刻。
func (p *Performance) Duration() time.Duration {
	if len(p.Events) == 0 {
		return 0
	}
	return p.Events[len(p.Events)-1].Time
}

// Count はイベント種別ごとの件数。
func (p *Performance) Count(kind Kind) int {
	n := 0
	for _, e := range p.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
