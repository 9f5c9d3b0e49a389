package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"jiperform/internal/channel"
	"jiperform/internal/clock"
	"jiperform/internal/config"
	"jiperform/internal/event"
	"jiperform/internal/logging"
	"jiperform/internal/midi"
	"jiperform/internal/obsws"
	"jiperform/internal/output"
	"jiperform/internal/picker"
	"jiperform/internal/player"
	"jiperform/internal/report"
	"jiperform/internal/tuning"
	"jiperform/internal/visualizer"
)

const shutdownTimeout = 2 * time.Second

func runPlay(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, code := parseConfig("play", args, stderr)
	if cfg == nil {
		return code
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "設定エラー: %v\n", err)
		return exitUsage
	}
	lg, err := logging.Setup(cfg.LogLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "設定エラー: %v\n", err)
		return exitUsage
	}
	return exitCode(play(cfg, lg, stdin, stdout), stderr)
}

func play(cfg *config.Config, lg *logrus.Logger, stdin io.Reader, stdout io.Writer) error {
	perf, err := event.Load(cfg.File)
	if err != nil {
		return err
	}
	lg.WithFields(logrus.Fields{
		"file":     cfg.File,
		"events":   len(perf.Events),
		"duration": perf.Duration().Round(time.Millisecond),
	}).Info("MIDI ファイルを読み込みました")

	eng, hc, alloc, err := buildTuning(cfg)
	if err != nil {
		return err
	}

	// 出力先
	var sinks output.Tee
	if cfg.MIDI {
		port, err := openPort(cfg, lg, stdin)
		if err != nil {
			return err
		}
		sinks = append(sinks, port)
	}
	if cfg.Record != "" {
		sinks = append(sinks, output.NewRecorder(cfg.Record, clock.System{}))
	}
	defer func() {
		if len(sinks) == 0 {
			return
		}
		if cerr := sinks.Close(); cerr != nil {
			lg.WithError(cerr).Warn("MIDI 出力の終了処理に失敗しました")
		}
	}()

	var vis *visualizer.Server
	if cfg.Visualizer {
		vis, err = startVisualizer(cfg, lg)
		if err != nil {
			if len(sinks) == 0 {
				return err
			}
			lg.WithError(err).Warn("ビジュアライザを起動できません。MIDI のみで演奏します")
			vis = nil
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if cerr := vis.Close(ctx); cerr != nil {
					lg.WithError(cerr).Warn("ビジュアライザの停止に失敗しました")
				}
			}()
		}
	}

	opts := output.Options{Log: lg}
	if len(sinks) == 1 {
		opts.MIDI = sinks[0]
	} else if len(sinks) > 1 {
		opts.MIDI = sinks
	}
	if vis != nil {
		opts.Visualizer = vis
	}
	disp, err := output.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.NoPrompt && picker.Interactive() {
		if err := waitForEnter(ctx, stdin, stdout, vis); err != nil {
			return err
		}
	}

	var sess *obsws.Session
	if cfg.OBS.Addr != "" {
		sess, err = obsws.Connect(obsws.Options{
			Addr:     cfg.OBS.Addr,
			Password: cfg.OBS.Password,
			Scene:    cfg.OBS.Scene,
			Record:   cfg.OBS.Record,
			Log:      lg,
		})
		if err != nil {
			return err
		}
		defer func() {
			if cerr := sess.End(); cerr != nil {
				lg.WithError(cerr).Warn("OBS の終了処理に失敗しました")
			}
		}()
		if err := sess.Begin(); err != nil {
			return err
		}
	}

	waiter := clock.NewSpinWaiter(cfg.SpinWindow)
	lg.WithField("spin_window", waiter.SpinWindow).Debug("スピン幅")

	var rows []report.Row
	popts := player.Options{
		Engine:    eng,
		Context:   hc,
		Allocator: alloc,
		Output:    disp,
		Clock:     clock.System{},
		Waiter:    waiter,
		StartFrom: cfg.StartFrom,
		Speed:     cfg.Speed,
		Log:       lg,
	}
	if cfg.Debug {
		popts.Trace = func(tn tuning.TunedNote, as channel.Assignment) {
			r := report.Row{Note: tn, Assign: as}
			rows = append(rows, r)
			lg.Debug(report.Line(r))
		}
	}
	p, err := player.New(popts)
	if err != nil {
		return err
	}

	lg.WithFields(logrus.Fields{
		"strategy":   eng.Strategy().Name(),
		"bend_range": alloc.BendRange(),
		"start_from": cfg.StartFrom,
		"speed":      cfg.Speed,
	}).Info("演奏を開始します")
	runErr := p.Run(ctx, perf.All())

	if cfg.Debug && len(rows) > 0 {
		fmt.Fprintln(stdout, report.Table(rows))
	}
	fmt.Fprintln(stdout, summary(p.Stats(), disp.Stats(), vis))
	return runErr
}

// openPort は -device に合うポートを開く。未指定なら端末で選ばせ、端末でなければ先頭を使う。
func openPort(cfg *config.Config, lg *logrus.Logger, stdin io.Reader) (*midi.Port, error) {
	name := cfg.Device
	if name == "" {
		names, err := midi.ListOutputs()
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, errors.Wrap(midi.ErrDeviceUnavailable, "MIDI出力デバイスがありません")
		}
		switch {
		case len(names) == 1:
			name = names[0]
		case !cfg.NoPrompt && picker.Interactive():
			i, err := picker.Pick("MIDI 出力デバイスを選択してください", names, stdin, os.Stderr)
			if err != nil {
				return nil, err
			}
			name = names[i]
		default:
			name = names[0]
			lg.WithField("device", name).Warn("-device が未指定のため最初のデバイスを使います")
		}
	}
	port, err := midi.OpenOutput(name)
	if err != nil {
		return nil, err
	}
	lg.WithField("device", port.Name()).Info("MIDI 出力を開きました")
	return port, nil
}

func startVisualizer(cfg *config.Config, lg *logrus.Logger) (*visualizer.Server, error) {
	format, err := visualizer.ParseFormat(cfg.MessageFormat)
	if err != nil {
		return nil, err
	}
	return visualizer.Start(visualizer.Options{Addr: cfg.VisualizerAddr, Format: format, Log: lg})
}

// waitForEnter は Enter が押されるまで待つ。待っている間もビジュアライザの接続を受け付ける。
func waitForEnter(ctx context.Context, stdin io.Reader, stdout io.Writer, vis *visualizer.Server) error {
	if vis != nil {
		fmt.Fprintf(stdout, "ビジュアライザは ws://%s/ に接続してください。\n", vis.Addr())
	}
	fmt.Fprint(stdout, "Enter で演奏を開始します...")
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(stdin).ReadString('\n')
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, io.EOF) {
			return errors.Wrap(err, "標準入力の読み取りに失敗")
		}
		return nil
	case <-ctx.Done():
		fmt.Fprintln(stdout)
		return ctx.Err()
	}
}

func summary(ps player.Stats, ds output.Stats, vis *visualizer.Server) string {
	items := []report.Item{
		{Label: "NoteOn", Value: fmt.Sprint(ps.NotesOn)},
		{Label: "CC", Value: fmt.Sprint(ps.Controls)},
		{Label: "スキップ", Value: fmt.Sprint(ps.Skipped)},
		{Label: "遅延", Value: fmt.Sprintf("%d 件 (最大 %v)", ps.Late, ps.MaxLateness.Round(time.Microsecond))},
		{Label: "MIDI 送信", Value: fmt.Sprint(ds.MIDIMessages)},
		{Label: "演奏時間", Value: ps.Elapsed.Round(time.Millisecond).String()},
	}
	if vis != nil {
		v := fmt.Sprintf("%d 件 (取りこぼし %d)", vis.Hub().Sent(), vis.Hub().Dropped())
		if ds.VisualizerFailed {
			v += "、途中で停止"
		}
		items = append(items, report.Item{Label: "ビジュアライザ", Value: v})
	}
	return report.Summary("演奏結果", items)
}
