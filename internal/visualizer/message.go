package visualizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"jiperform/internal/event"
	"jiperform/internal/tuning"
)

// Kind はメッセージ種別。
type Kind string

const (
	KindNoteOn  Kind = "on"
	KindNoteOff Kind = "off"
	KindCC      Kind = "cc"
)

// Format は送信形式。
type Format int

const (
	// FormatText は "on:<半音>:<ベロシティ>:<モンゾ>" 形式（既存の格子ビジュアライザ互換）。
	FormatText Format = iota
	// FormatJSON は 1 メッセージ 1 JSON オブジェクト。
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "text"
}

// ParseFormat は "text" / "json" を読む。
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, errors.Errorf("message_format は text か json を指定してください: %q", s)
}

// Message はビジュアライザへ送る 1 件の通知。
type Message struct {
	Kind          Kind    `json:"type"`
	EdoSteps      int     `json:"edosteps"` // A4 からの 12平均律半音数
	Velocity      uint8   `json:"velocity,omitempty"`
	Monzo         []int   `json:"monzo,omitempty"`
	OctaveReduced bool    `json:"octave_reduced,omitempty"`
	Cents         float64 `json:"cents,omitempty"`
	Controller    uint8   `json:"controller,omitempty"`
	Value         uint8   `json:"value,omitempty"`
}

// NoteOn は調律済みの NoteOn 通知を作る。
func NoteOn(ev event.Event, tn tuning.TunedNote) Message {
	return Message{
		Kind:          KindNoteOn,
		EdoSteps:      ev.EdoStepsFromA4(),
		Velocity:      ev.Velocity,
		Monzo:         tn.Pitch.Wire(),
		OctaveReduced: tn.Pitch.OctaveReduced,
		Cents:         tn.CentsDeviation,
	}
}

// NoteOff は NoteOff 通知を作る。
func NoteOff(ev event.Event) Message {
	return Message{Kind: KindNoteOff, EdoSteps: ev.EdoStepsFromA4(), Velocity: ev.Velocity}
}

// CC はコントロールチェンジ通知を作る。
func CC(controller, value uint8) Message {
	return Message{Kind: KindCC, Controller: controller, Value: value}
}

// Text はテキスト形式。
func (m Message) Text() string {
	switch m.Kind {
	case KindNoteOn:
		monzo := m.Monzo
		if len(monzo) == 0 {
			monzo = []int{0}
		}
		parts := make([]string, len(monzo))
		for i, e := range monzo {
			parts[i] = fmt.Sprint(e)
		}
		return fmt.Sprintf("on:%d:%d:%s", m.EdoSteps, m.Velocity, strings.Join(parts, ":"))
	case KindNoteOff:
		return fmt.Sprintf("off:%d:%d", m.EdoSteps, m.Velocity)
	default:
		return fmt.Sprintf("cc:%d:%d", m.Controller, m.Value)
	}
}

// Encode は format に従ってペイロードを作る。
func (m Message) Encode(format Format) ([]byte, error) {
	if format == FormatJSON {
		b, err := json.Marshal(m)
		return b, errors.Wrap(err, "JSONエンコード失敗")
	}
	return []byte(m.Text()), nil
}
