//go:build midi_native

package midi

import (
	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// ListOutputs は利用可能な出力デバイスの名称一覧を返す。
func ListOutputs() ([]string, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "rtmididrv.New: %v", err)
	}
	return listFrom(drv)
}

// OpenOutput は name に合う出力ポートを開く。
func OpenOutput(name string) (*Port, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "rtmididrv.New: %v", err)
	}
	return openFrom(drv, name)
}
