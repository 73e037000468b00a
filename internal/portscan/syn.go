package portscan

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRawSocket means SYN probing is impossible in this process, usually
// because it lacks root or CAP_NET_RAW. It is a configuration error, not
// a per-port failure.
var ErrRawSocket = errors.New("raw socket unavailable (run as root or grant CAP_NET_RAW, or use scan method \"connect\")")

// errReadTimeout is returned by rawConn.ReadFrom when nothing arrived in time
var errReadTimeout = errors.New("raw socket read timeout")

// rawConn sends and receives whole IPv4 packets
type rawConn interface {
	WriteTo(pkt []byte, dst net.IP) error
	// ReadFrom blocks for at most a short poll interval, then returns errReadTimeout
	ReadFrom(buf []byte) (int, error)
	Close() error
}

type waitKey struct {
	ip   [4]byte
	port uint16
}

// SYNProber sends half-open TCP probes over one shared raw socket.
// A single receive loop dispatches replies to the waiting probes.
type SYNProber struct {
	conn    rawConn
	logger  *zap.Logger
	srcPort uint16
	localIP func(dst net.IP) (net.IP, error)

	mu      sync.Mutex
	waiters map[waitKey]chan State

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSYNProber opens the raw socket. The returned error wraps ErrRawSocket
// when the process is not privileged or the platform has no raw sockets.
func NewSYNProber(logger *zap.Logger) (*SYNProber, error) {
	conn, err := openRawSocket()
	if err != nil {
		return nil, err
	}
	return newSYNProber(conn, logger), nil
}

func newSYNProber(conn rawConn, logger *zap.Logger) *SYNProber {
	p := &SYNProber{
		conn:    conn,
		logger:  logger,
		srcPort: uint16(32768 + rand.IntN(28232)),
		localIP: localIPFor,
		waiters: make(map[waitKey]chan State),
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.receiveLoop()
	return p
}

// Probe sends one SYN and waits up to timeout for SYN+ACK or RST.
// Silence is reported as closed.
func (p *SYNProber) Probe(ctx context.Context, target net.IP, port uint16, timeout time.Duration) (State, error) {
	dst := target.To4()
	if dst == nil {
		return StateClosed, fmt.Errorf("target %s is not IPv4", target)
	}
	src, err := p.localIP(dst)
	if err != nil {
		return StateClosed, fmt.Errorf("no route to %s: %w", dst, err)
	}

	key := waitKey{port: port}
	copy(key.ip[:], dst)
	ch := make(chan State, 1)

	p.mu.Lock()
	p.waiters[key] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.waiters, key)
		p.mu.Unlock()
	}()

	pkt, err := buildSYN(src, dst, p.srcPort, port, rand.Uint32())
	if err != nil {
		return StateClosed, err
	}
	if err := p.conn.WriteTo(pkt, dst); err != nil {
		return StateClosed, fmt.Errorf("send SYN to %s:%d: %w", dst, port, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case state := <-ch:
		return state, nil
	case <-timer.C:
		return StateClosed, nil
	case <-ctx.Done():
		return StateClosed, ctx.Err()
	}
}

func (p *SYNProber) receiveLoop() {
	defer p.wg.Done()
	buf := make([]byte, 65535)

	for {
		select {
		case <-p.done:
			return
		default:
		}

		n, err := p.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, errReadTimeout) {
				select {
				case <-p.done:
					return
				default:
				}
				p.logger.Debug("Raw socket read failed", zap.Error(err))
			}
			continue
		}

		reply, ok := parseReply(buf[:n])
		if !ok || reply.dstPort != p.srcPort {
			continue
		}
		state, ok := classify(reply.flags)
		if !ok {
			continue
		}

		p.mu.Lock()
		ch := p.waiters[waitKey{ip: reply.src, port: reply.srcPort}]
		p.mu.Unlock()
		if ch != nil {
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// Close stops the receive loop and releases the socket
func (p *SYNProber) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		err = p.conn.Close()
	})
	return err
}

// localIPFor picks the source address the kernel would use to reach dst
func localIPFor(dst net.IP) (net.IP, error) {
	if dst.IsLoopback() {
		return dst, nil
	}
	conn, err := net.Dial("udp4", net.JoinHostPort(dst.String(), "80"))
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.To4(), nil
}
