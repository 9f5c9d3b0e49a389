//go:build !midi_native

package midi

import "github.com/pkg/errors"

var errNoDriver = errors.Wrap(ErrDeviceUnavailable, "native MIDI driver is not included in this build (build with -tags midi_native)")

// OpenOutput は指定デバイスを開く。
// デフォルトビルド（midi_nativeタグなし）では未対応。
func OpenOutput(name string) (*Port, error) {
	return nil, errNoDriver
}

// ListOutputs は利用可能なMIDI出力デバイス名を返す。
// デフォルトビルド（midi_nativeタグなし）では未対応。
func ListOutputs() ([]string, error) {
	return nil, errNoDriver
}
