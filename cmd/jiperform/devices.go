package main

import (
	"fmt"
	"io"

	"jiperform/internal/config"
	"jiperform/internal/midi"
)

func runDevices(stdout, stderr io.Writer) int {
	names, err := midi.ListOutputs()
	if err != nil {
		return exitCode(err, stderr)
	}
	if len(names) == 0 {
		fmt.Fprintln(stdout, "(出力デバイスなし)")
		return exitOK
	}
	for i, n := range names {
		fmt.Fprintf(stdout, "%d. %s\n", i+1, n)
	}
	return exitOK
}

func runInitConfig(args []string, stdout, stderr io.Writer) int {
	path := ""
	if len(args) > 0 {
		path = args[0]
	} else {
		p, err := config.DefaultPath()
		if err != nil {
			return exitCode(err, stderr)
		}
		path = p
	}
	if err := config.Save(path, config.Default()); err != nil {
		return exitCode(err, stderr)
	}
	fmt.Fprintf(stdout, "設定ファイルを書き出しました: %s\n", path)
	return exitOK
}
