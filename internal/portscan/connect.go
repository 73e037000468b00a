package portscan

import (
	"context"
	"net"
	"strconv"
	"time"
)

// ConnectProber completes a full TCP handshake. It needs no privileges but
// is visible to the target's connection logs, so it is only used when
// configured explicitly.
type ConnectProber struct{}

// NewConnectProber creates a connect-based prober
func NewConnectProber() *ConnectProber {
	return &ConnectProber{}
}

func (ConnectProber) Probe(ctx context.Context, target net.IP, port uint16, timeout time.Duration) (State, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp4", net.JoinHostPort(target.String(), strconv.Itoa(int(port))))
	if err != nil {
		if ctx.Err() != nil {
			return StateClosed, ctx.Err()
		}
		return StateClosed, nil
	}
	conn.Close()
	return StateOpen, nil
}
