package tuning

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"jiperform/internal/event"
)

// ScriptEntry は時刻 Time（秒）から適用する 12 音の調律。
//
// Ratios[i] は Root から数えて i 半音上の音の、直下の A に対する比率。
// Root を超えて A を跨いだ音は 1 オクターブ下げて扱う。
// "0" または "-" は直前の調律を維持する（最初のエントリでは使えない）。
// Offset は全比率に掛ける比率で、コンマシフトの指定に使う。
type ScriptEntry struct {
	Time   float64  `mapstructure:"time"`
	Root   string   `mapstructure:"root"`
	Offset string   `mapstructure:"offset"`
	Ratios []string `mapstructure:"ratios"`
}

type scriptFile struct {
	Entries []ScriptEntry `mapstructure:"entries"`
}

// Script は時刻ごとの調律表に従う方針。文脈は参照しない。
type Script struct {
	times  []time.Duration
	tables [][12]Monzo
}

// LoadScript は JSON の調律表を読む。
func LoadScript(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "調律表を開けません")
	}
	defer f.Close()
	s, err := ParseScript(f)
	if err != nil {
		return nil, errors.Wrapf(err, "調律表 %s", path)
	}
	return s, nil
}

// ParseScript は {"entries": [...]} 形式を読む。root や比率は数値でも文字列でもよい。
func ParseScript(r io.Reader) (*Script, error) {
	var raw map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "JSONの解析に失敗")
	}
	var sf scriptFile
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &sf,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "調律表の形式が不正です")
	}
	return NewScript(sf.Entries)
}

// NewScript は各エントリを累積適用した調律表を作る。
func NewScript(entries []ScriptEntry) (*Script, error) {
	if len(entries) == 0 {
		return nil, errors.New("調律表にエントリがありません")
	}
	sorted := append([]ScriptEntry(nil), entries...)
	if !sort.SliceIsSorted(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time }) {
		logrus.Warn("調律表が時刻順ではありません。並べ替えます")
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })
	}

	s := &Script{}
	var cur [12]Monzo
	for n, e := range sorted {
		if e.Time < 0 {
			return nil, errors.Errorf("エントリ %d: 時刻が負です (%v)", n, e.Time)
		}
		root, err := parseRoot(e.Root)
		if err != nil {
			return nil, errors.Wrapf(err, "エントリ %d", n)
		}
		if len(e.Ratios) != 12 {
			return nil, errors.Errorf("エントリ %d: 比率は 12 個必要です (%d 個)", n, len(e.Ratios))
		}
		offset := Monzo{}
		if strings.TrimSpace(e.Offset) != "" {
			if offset, err = ParseRatio(e.Offset); err != nil {
				return nil, errors.Wrapf(err, "エントリ %d: offset", n)
			}
		}
		for i, rs := range e.Ratios {
			pc := (i + root) % 12
			if isKeep(rs) {
				if n == 0 {
					return nil, errors.Errorf("最初のエントリでは維持(%q)を使えません: %s", rs, event.PitchClassNames[pc])
				}
				continue
			}
			m, err := ParseRatio(rs)
			if err != nil {
				return nil, errors.Wrapf(err, "エントリ %d: %s", n, event.PitchClassNames[pc])
			}
			m = m.Add(offset)
			if i+root >= 12 {
				m = m.ShiftOctaves(-1)
			}
			cur[pc] = m
		}
		s.times = append(s.times, time.Duration(e.Time*float64(time.Second)))
		s.tables = append(s.tables, cur)
	}
	return s, nil
}

func (s *Script) Name() string { return "script" }

// Len はエントリ数。
func (s *Script) Len() int { return len(s.times) }

// Table は時刻 at に有効な 12 音の音高。最初のエントリより前は最初のエントリを使う。
func (s *Script) Table(at time.Duration) [12]Monzo {
	i := sort.Search(len(s.times), func(i int) bool { return s.times[i] > at }) - 1
	if i < 0 {
		i = 0
	}
	return s.tables[i]
}

func (s *Script) Choose(ev event.Event, _ *HarmonicContext) Monzo {
	t := s.Table(ev.Time)
	return t[ev.PitchClass].Clone()
}

func isKeep(s string) bool {
	switch strings.TrimSpace(s) {
	case "0", "-", "":
		return true
	}
	return false
}

func parseRoot(s string) (int, error) {
	s = strings.TrimSpace(s)
	for i, name := range event.PitchClassNames {
		if strings.EqualFold(s, name) {
			return i, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 11 {
		return 0, errors.Errorf("root は 0〜11 または音名 (A, Bb, ... G#) で指定してください: %q", s)
	}
	return n, nil
}
