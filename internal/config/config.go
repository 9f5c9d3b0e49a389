// Package config は再生設定（JSON 設定ファイル + コマンドラインフラグ）を扱う。
// 優先順位は「明示したフラグ > JSON > 既定値」。
package config

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// OBS は録画連携の設定。Addr が空なら連携しない。
type OBS struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password"`
	Scene    string `mapstructure:"scene" json:"scene"`
	Record   bool   `mapstructure:"record" json:"record"`
}

// Config は 1 回の再生の設定。
type Config struct {
	File                string        `mapstructure:"file" json:"file"`
	Device              string        `mapstructure:"device" json:"device"`
	PitchBendRange      float64       `mapstructure:"pitch_bend_range" json:"pitch_bend_range"`
	MIDI                bool          `mapstructure:"midi" json:"midi"`
	Visualizer          bool          `mapstructure:"visualizer" json:"visualizer"`
	VisualizerAddr      string        `mapstructure:"visualizer_addr" json:"visualizer_addr"`
	OctaveReducedMonzos bool          `mapstructure:"octave_reduced_monzos" json:"octave_reduced_monzos"`
	MessageFormat       string        `mapstructure:"message_format" json:"message_format"`
	CCMode              string        `mapstructure:"cc_mode" json:"cc_mode"`
	Strategy            string        `mapstructure:"strategy" json:"strategy"`
	Script              string        `mapstructure:"script" json:"script"`
	PrimeLimit          int           `mapstructure:"prime_limit" json:"prime_limit"`
	MaxDeviationCents   float64       `mapstructure:"max_deviation_cents" json:"max_deviation_cents"`
	ContextHalfLife     time.Duration `mapstructure:"context_half_life" json:"context_half_life"`
	SpinWindow          time.Duration `mapstructure:"spin_window" json:"spin_window"` // 0 なら起動時に計測
	StartFrom           time.Duration `mapstructure:"start_from" json:"start_from"`
	Speed               float64       `mapstructure:"speed" json:"speed"`
	Record              string        `mapstructure:"record" json:"record"`
	OBS                 OBS           `mapstructure:"obs" json:"obs"`
	LogLevel            string        `mapstructure:"log_level" json:"log_level"`
	NoPrompt            bool          `mapstructure:"no_prompt" json:"no_prompt"`
	Debug               bool          `mapstructure:"debug" json:"debug"`
}

// Default は既定値。
func Default() *Config {
	return &Config{
		PitchBendRange:    4,
		MIDI:              true,
		Visualizer:        true,
		VisualizerAddr:    "127.0.0.1:8765",
		MessageFormat:     "text",
		CCMode:            "broadcast",
		Strategy:          "adaptive",
		PrimeLimit:        7,
		MaxDeviationCents: 40,
		ContextHalfLife:   1500 * time.Millisecond,
		Speed:             1,
		LogLevel:          "info",
	}
}

// DefaultPath は -config 未指定時に探す設定ファイル（OS毎の規定の設定ディレクトリ配下）。
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "jiperform", "config.json"), nil
}

// Load は JSON を読み、c に上書きする。書かれていないキーは c の値のまま。
// 時間は "1.5s" のような文字列か秒数で書ける。未知のキーはエラー。
func Load(path string, c *Config) error {
	bt, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "設定ファイルを読めません")
	}
	var raw map[string]any
	if err := json.Unmarshal(bt, &raw); err != nil {
		return errors.Wrapf(err, "設定ファイル %s の JSON が不正です", path)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           c,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	if err := dec.Decode(raw); err != nil {
		return errors.Wrapf(err, "設定ファイル %s", path)
	}
	return nil
}

// Save は c を JSON で保存する。時間は文字列で書く。
func Save(path string, c *Config) error {
	var m map[string]any
	if err := mapstructure.Decode(c, &m); err != nil {
		return errors.WithStack(err)
	}
	for k, v := range m {
		if d, ok := v.(time.Duration); ok {
			m[k] = d.String()
		}
	}
	bt, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(path, append(bt, '\n'), 0o644))
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsHook は数値を秒として time.Duration にする。
func secondsHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	}
	return data, nil
}

// Validate は値の範囲と列挙値を検査する。
func (c *Config) Validate() error {
	if err := c.ValidateTuning(); err != nil {
		return err
	}
	switch {
	case !c.MIDI && !c.Visualizer:
		return errors.New("-midi と -visualizer の両方が無効です")
	case c.Speed <= 0:
		return errors.Errorf("speed は正の値にしてください: %v", c.Speed)
	case c.StartFrom < 0:
		return errors.Errorf("start_from は 0 以上にしてください: %v", c.StartFrom)
	}
	switch strings.ToLower(c.MessageFormat) {
	case "text", "json":
	default:
		return errors.Errorf("message_format は text か json を指定してください: %q", c.MessageFormat)
	}
	return nil
}

// ValidateTuning は出力先に関係しない項目（ファイル・調律・ベンド幅）だけを検査する。
func (c *Config) ValidateTuning() error {
	switch {
	case c.File == "":
		return errors.New("再生する MIDI ファイルを指定してください")
	case c.PitchBendRange < 0:
		return errors.Errorf("pitch_bend_range は 0 以上にしてください: %v", c.PitchBendRange)
	case c.ContextHalfLife < 0:
		return errors.Errorf("context_half_life は 0 以上にしてください: %v", c.ContextHalfLife)
	case c.MaxDeviationCents <= 0:
		return errors.Errorf("max_deviation_cents は正の値にしてください: %v", c.MaxDeviationCents)
	}
	switch strings.ToLower(c.Strategy) {
	case "adaptive":
	case "script":
		if c.Script == "" {
			return errors.New("strategy=script には -script でチューニング表を指定してください")
		}
	default:
		return errors.Errorf("strategy は adaptive か script を指定してください: %q", c.Strategy)
	}
	switch strings.ToLower(c.CCMode) {
	case "broadcast", "single":
	default:
		return errors.Errorf("cc_mode は broadcast か single を指定してください: %q", c.CCMode)
	}
	return nil
}

// Parse は play サブコマンドの引数を読む。位置引数があれば再生ファイルとみなす。
// -config が無ければ DefaultPath に設定ファイルがある場合だけそれを使う。
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	fl := Default()
	configPath := fs.String("config", "", "JSON設定ファイルへのパス")
	fs.StringVar(&fl.File, "file", fl.File, "再生する MIDI ファイル（位置引数でも可）")
	fs.StringVar(&fl.Device, "device", fl.Device, "MIDI 出力デバイス名（部分一致可。空なら選択）")
	fs.Float64Var(&fl.PitchBendRange, "pitch-bend-range", fl.PitchBendRange, "音源側のピッチベンド幅（半音）")
	fs.BoolVar(&fl.MIDI, "midi", fl.MIDI, "MIDI 出力を有効化")
	fs.BoolVar(&fl.Visualizer, "visualizer", fl.Visualizer, "ビジュアライザ出力を有効化")
	fs.StringVar(&fl.VisualizerAddr, "visualizer-addr", fl.VisualizerAddr, "ビジュアライザ用 WebSocket の待受アドレス")
	fs.BoolVar(&fl.OctaveReducedMonzos, "octave-reduced-monzos", fl.OctaveReducedMonzos, "モンゾを1オクターブ内に還元して送る（ビジュアライザ側と揃えること）")
	fs.StringVar(&fl.MessageFormat, "message-format", fl.MessageFormat, "ビジュアライザへの送信形式 (text|json)")
	fs.StringVar(&fl.CCMode, "cc-mode", fl.CCMode, "CC の送信先 (broadcast|single)")
	fs.StringVar(&fl.Strategy, "strategy", fl.Strategy, "調律方式 (adaptive|script)")
	fs.StringVar(&fl.Script, "script", fl.Script, "チューニング表 JSON（strategy=script）")
	fs.IntVar(&fl.PrimeLimit, "prime-limit", fl.PrimeLimit, "使用する素数の上限")
	fs.Float64Var(&fl.MaxDeviationCents, "max-deviation", fl.MaxDeviationCents, "12平均律からの許容偏差（セント）")
	fs.DurationVar(&fl.ContextHalfLife, "context-half-life", fl.ContextHalfLife, "解放済みの音が文脈に残る半減期")
	fs.DurationVar(&fl.SpinWindow, "spin-window", fl.SpinWindow, "最後にスピンする幅（0 なら計測）")
	fs.DurationVar(&fl.StartFrom, "start-from", fl.StartFrom, "再生開始位置（例: 1m30s）")
	fs.Float64Var(&fl.Speed, "speed", fl.Speed, "再生速度の倍率")
	fs.StringVar(&fl.Record, "record", fl.Record, "送信した MIDI を書き出す SMF パス")
	fs.StringVar(&fl.OBS.Addr, "obs-addr", fl.OBS.Addr, "OBS WebSocket のアドレス（host:port）")
	fs.StringVar(&fl.OBS.Password, "obs-password", fl.OBS.Password, "OBS WebSocket のパスワード")
	fs.StringVar(&fl.OBS.Scene, "obs-scene", fl.OBS.Scene, "再生前に切り替えるシーン")
	fs.BoolVar(&fl.OBS.Record, "obs-record", fl.OBS.Record, "再生中 OBS で録画する")
	fs.StringVar(&fl.LogLevel, "log-level", fl.LogLevel, "ログレベル (debug|info|warn|error)")
	fs.BoolVar(&fl.NoPrompt, "no-prompt", fl.NoPrompt, "開始前に Enter を待たない")
	fs.BoolVar(&fl.Debug, "debug", fl.Debug, "調律結果を表で表示する")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fl.File = fs.Arg(0)
		if err := fs.Set("file", fl.File); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	c := Default()
	path := strings.TrimSpace(*configPath)
	if path == "" {
		if p, err := DefaultPath(); err == nil {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if path != "" {
		if err := Load(path, c); err != nil {
			return nil, err
		}
	}

	// 明示指定されたフラグだけを JSON の上に重ねる
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply(c, fl)
		}
	})
	return c, nil
}

var overrides = map[string]func(dst, src *Config){
	"file":                  func(d, s *Config) { d.File = s.File },
	"device":                func(d, s *Config) { d.Device = s.Device },
	"pitch-bend-range":      func(d, s *Config) { d.PitchBendRange = s.PitchBendRange },
	"midi":                  func(d, s *Config) { d.MIDI = s.MIDI },
	"visualizer":            func(d, s *Config) { d.Visualizer = s.Visualizer },
	"visualizer-addr":       func(d, s *Config) { d.VisualizerAddr = s.VisualizerAddr },
	"octave-reduced-monzos": func(d, s *Config) { d.OctaveReducedMonzos = s.OctaveReducedMonzos },
	"message-format":        func(d, s *Config) { d.MessageFormat = s.MessageFormat },
	"cc-mode":               func(d, s *Config) { d.CCMode = s.CCMode },
	"strategy":              func(d, s *Config) { d.Strategy = s.Strategy },
	"script":                func(d, s *Config) { d.Script = s.Script },
	"prime-limit":           func(d, s *Config) { d.PrimeLimit = s.PrimeLimit },
	"max-deviation":         func(d, s *Config) { d.MaxDeviationCents = s.MaxDeviationCents },
	"context-half-life":     func(d, s *Config) { d.ContextHalfLife = s.ContextHalfLife },
	"spin-window":           func(d, s *Config) { d.SpinWindow = s.SpinWindow },
	"start-from":            func(d, s *Config) { d.StartFrom = s.StartFrom },
	"speed":                 func(d, s *Config) { d.Speed = s.Speed },
	"record":                func(d, s *Config) { d.Record = s.Record },
	"obs-addr":              func(d, s *Config) { d.OBS.Addr = s.OBS.Addr },
	"obs-password":          func(d, s *Config) { d.OBS.Password = s.OBS.Password },
	"obs-scene":             func(d, s *Config) { d.OBS.Scene = s.OBS.Scene },
	"obs-record":            func(d, s *Config) { d.OBS.Record = s.OBS.Record },
	"log-level":             func(d, s *Config) { d.LogLevel = s.LogLevel },
	"no-prompt":             func(d, s *Config) { d.NoPrompt = s.NoPrompt },
	"debug":                 func(d, s *Config) { d.Debug = s.Debug },
}
