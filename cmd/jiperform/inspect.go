package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"jiperform/internal/channel"
	"jiperform/internal/clock"
	"jiperform/internal/config"
	"jiperform/internal/event"
	"jiperform/internal/logging"
	"jiperform/internal/output"
	"jiperform/internal/player"
	"jiperform/internal/report"
	"jiperform/internal/tuning"
)

// runInspect は実時間を待たずに全イベントを調律・割り当てし、結果を表示する。
func runInspect(args []string, stdout, stderr io.Writer) int {
	cfg, code := parseConfig("inspect", args, stderr)
	if cfg == nil {
		return code
	}
	if err := cfg.ValidateTuning(); err != nil {
		fmt.Fprintf(stderr, "設定エラー: %v\n", err)
		return exitUsage
	}
	lg, err := logging.Setup(cfg.LogLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "設定エラー: %v\n", err)
		return exitUsage
	}

	perf, err := event.Load(cfg.File)
	if err != nil {
		return exitCode(err, stderr)
	}
	rows, st, runErr := dryRun(perf, cfg, lg)
	if rows == nil && runErr != nil {
		return exitCode(runErr, stderr)
	}

	fmt.Fprintln(stdout, report.Table(rows))
	maxDev := 0.0
	for _, r := range rows {
		maxDev = math.Max(maxDev, math.Abs(r.Note.CentsDeviation))
	}
	fmt.Fprintln(stdout, report.Summary(cfg.File, []report.Item{
		{Label: "長さ", Value: perf.Duration().Round(time.Millisecond).String()},
		{Label: "トラック", Value: fmt.Sprint(perf.Tracks)},
		{Label: "NoteOn", Value: fmt.Sprint(st.NotesOn)},
		{Label: "CC", Value: fmt.Sprint(st.Controls)},
		{Label: "最大偏差", Value: fmt.Sprintf("%.2f セント", maxDev)},
		{Label: "ベンド幅", Value: fmt.Sprintf("±%g 半音", cfg.PitchBendRange)},
	}))
	return exitCode(runErr, stderr)
}

// dryRun は Manual 時計と Discard 出力で Player を回す。
func dryRun(perf *event.Performance, cfg *config.Config, lg *logrus.Logger) ([]report.Row, player.Stats, error) {
	eng, hc, alloc, err := buildTuning(cfg)
	if err != nil {
		return nil, player.Stats{}, err
	}
	disp, err := output.New(output.Options{MIDI: output.Discard{}, Log: lg})
	if err != nil {
		return nil, player.Stats{}, err
	}
	clk := clock.NewManual(time.Time{})
	rows := []report.Row{}
	p, err := player.New(player.Options{
		Engine:    eng,
		Context:   hc,
		Allocator: alloc,
		Output:    disp,
		Clock:     clk,
		Waiter:    clk,
		StartFrom: cfg.StartFrom,
		Log:       lg,
		Trace: func(tn tuning.TunedNote, as channel.Assignment) {
			rows = append(rows, report.Row{Note: tn, Assign: as})
		},
	})
	if err != nil {
		return nil, player.Stats{}, err
	}
	err = p.Run(context.Background(), perf.All())
	return rows, p.Stats(), err
}
