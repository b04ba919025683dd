//go:build !linux

package systemd

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("systemd is only available on linux")

func GetUnitStatus(ctx context.Context, unit string) (*UnitStatus, error) {
	return nil, errUnsupported
}

func RestartUnit(ctx context.Context, unit string) error { return errUnsupported }
