//go:build !linux

package portscan

import (
	"fmt"
	"runtime"
)

func openRawSocket() (rawConn, error) {
	return nil, fmt.Errorf("%w: SYN probing is not supported on %s", ErrRawSocket, runtime.GOOS)
}
