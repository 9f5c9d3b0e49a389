package main

import (
	"fmt"
	"io"
	"os"
)

// これらは ldflags で上書き可能:
// go build -ldflags "-X main.version=1.2.3 -X main.commit=abcd123 -X main.date=2025-08-12T01:23:45Z"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	exitOK          = 0
	exitFatal       = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return exitUsage
	}

	switch args[0] {
	case "play":
		return runPlay(args[1:], stdin, stdout, stderr)
	case "inspect":
		return runInspect(args[1:], stdout, stderr)
	case "devices", "ls-devices":
		return runDevices(stdout, stderr)
	case "init-config":
		return runInitConfig(args[1:], stdout, stderr)
	case "version", "-v", "--version":
		printVersion(stdout)
		return exitOK
	case "help", "-h", "--help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "不明なサブコマンド: %s\n\n", args[0])
		usage(stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "jiperform - MIDI ファイルを純正律で演奏する")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "使用方法:")
	fmt.Fprintln(w, "  jiperform <command> [options] [file.mid]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "コマンド:")
	fmt.Fprintln(w, "  play         MIDI ファイルを実時間で演奏（MIDI 出力 + ビジュアライザ）")
	fmt.Fprintln(w, "  inspect      実時間再生せずに調律結果を表示し、ベンド幅の超過を検査")
	fmt.Fprintln(w, "  devices      利用可能な MIDI 出力デバイス一覧を表示")
	fmt.Fprintln(w, "  init-config  既定値の設定ファイルを書き出す")
	fmt.Fprintln(w, "  version      バージョン情報を表示")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "主なオプション（play / inspect 共通。詳細は jiperform play -h）:")
	fmt.Fprintln(w, "  -device            MIDI 出力デバイス名（部分一致可）")
	fmt.Fprintln(w, "  -pitch-bend-range  音源側のピッチベンド幅（半音、既定 4）")
	fmt.Fprintln(w, "  -midi / -visualizer  各出力の有効化 (true/false)")
	fmt.Fprintln(w, "  -octave-reduced-monzos  ビジュアライザ側の設定と揃えること")
	fmt.Fprintln(w, "  -strategy          adaptive|script")
	fmt.Fprintln(w, "  -start-from        開始位置 (例: 1m30s)")
	fmt.Fprintln(w, "  -speed             再生速度の倍率")
	fmt.Fprintln(w, "  -config            JSON設定ファイルパス")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "例:")
	fmt.Fprintln(w, "  jiperform play -device 'FLUID Synth' -pitch-bend-range 2 song.mid")
	fmt.Fprintln(w, "  jiperform play -midi=false -octave-reduced-monzos song.mid   # ビジュアライザのみ")
	fmt.Fprintln(w, "  jiperform inspect -pitch-bend-range 1 song.mid")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "注: ネイティブMIDI出力はビルドタグ 'midi_native' が必要です。")
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "jiperform %s (commit %s, built %s)\n", version, commit, date)
}
