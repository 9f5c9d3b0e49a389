package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/pkg/errors"

	"jiperform/internal/channel"
	"jiperform/internal/config"
	"jiperform/internal/event"
	"jiperform/internal/midi"
	"jiperform/internal/output"
	"jiperform/internal/tuning"
)

// parseConfig はフラグと設定ファイルを読む。戻り値の code が 0 以外なら終了する。
func parseConfig(name string, args []string, stderr io.Writer) (*config.Config, int) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg, err := config.Parse(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		return nil, exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "設定エラー: %v\n", err)
		return nil, exitUsage
	}
	return cfg, -1
}

// buildTuning は設定から調律エンジンとチャンネル割り当て器を作る。
func buildTuning(cfg *config.Config) (*tuning.Engine, *tuning.HarmonicContext, *channel.Allocator, error) {
	var strat tuning.Strategy
	switch strings.ToLower(cfg.Strategy) {
	case "script":
		s, err := tuning.LoadScript(cfg.Script)
		if err != nil {
			return nil, nil, nil, err
		}
		strat = s
	default:
		a, err := tuning.NewAdaptive(tuning.AdaptiveOptions{
			PrimeLimit:   cfg.PrimeLimit,
			MaxDeviation: cfg.MaxDeviationCents,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		strat = a
	}
	mode, err := channel.ParseCCMode(cfg.CCMode)
	if err != nil {
		return nil, nil, nil, err
	}
	alloc, err := channel.New(cfg.PitchBendRange, mode)
	if err != nil {
		return nil, nil, nil, err
	}
	eng := tuning.NewEngine(strat, cfg.OctaveReducedMonzos)
	return eng, tuning.NewHarmonicContext(cfg.ContextHalfLife), alloc, nil
}

// exitCode はエラーを終了コードに変換し、診断を表示する。
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	var re *channel.RangeError
	var de *event.SourceDecodeError
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(stderr, "中断しました。")
		return exitInterrupted
	case errors.As(err, &re):
		fmt.Fprintf(stderr, "エラー: %v\n", re)
		fmt.Fprintf(stderr, "  音源のピッチベンド幅を広げ、-pitch-bend-range %g 以上を指定してください。\n", requiredRange(re.Cents))
	case errors.As(err, &de):
		fmt.Fprintf(stderr, "エラー: %v\n", de)
	case errors.Is(err, midi.ErrDeviceUnavailable):
		fmt.Fprintf(stderr, "エラー: %v\n", err)
		fmt.Fprintln(stderr, "  利用可能なデバイスは 'jiperform devices' で確認できます。")
	case errors.Is(err, output.ErrSinkDisconnected):
		fmt.Fprintf(stderr, "エラー: 出力先との接続が切れました: %v\n", err)
	default:
		fmt.Fprintf(stderr, "エラー: %v\n", err)
	}
	return exitFatal
}

// requiredRange は cents を表せる最小の整数半音幅。
func requiredRange(cents float64) float64 {
	return math.Floor(math.Abs(cents)/100) + 1
}
