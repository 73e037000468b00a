package portscan

import (
	"context"
	"errors"
	"net"
	"os"
	"reflect"
	"runtime"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeNetwork plays the target host: it answers SYNs written to it with
// SYN+ACK for listening ports, RST for refusing ones, and nothing otherwise
type fakeNetwork struct {
	listening map[uint16]bool
	refusing  map[uint16]bool
	replies   chan []byte
	closed    chan struct{}
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		listening: map[uint16]bool{},
		refusing:  map[uint16]bool{},
		replies:   make(chan []byte, 128),
		closed:    make(chan struct{}),
	}
}

func (f *fakeNetwork) WriteTo(pkt []byte, dst net.IP) error {
	syn, ok := parseReply(pkt)
	if !ok {
		return errors.New("malformed probe")
	}

	var flags byte
	switch {
	case f.listening[syn.dstPort]:
		flags = flagSYN | flagACK
	case f.refusing[syn.dstPort]:
		flags = flagRST | flagACK
	default:
		return nil
	}

	// A stray segment for some other connection arrives first
	stray, _ := buildTCPPacket(dst, net.IP(syn.src[:]), syn.dstPort, syn.srcPort+1, 7, 8, flagSYN|flagACK)
	f.replies <- stray

	reply, err := buildTCPPacket(dst, net.IP(syn.src[:]), syn.dstPort, syn.srcPort, 1000, 1, flags)
	if err != nil {
		return err
	}
	f.replies <- reply
	return nil
}

func (f *fakeNetwork) ReadFrom(buf []byte) (int, error) {
	select {
	case pkt := <-f.replies:
		return copy(buf, pkt), nil
	case <-time.After(20 * time.Millisecond):
		return 0, errReadTimeout
	}
}

func (f *fakeNetwork) Close() error {
	close(f.closed)
	return nil
}

func newTestSYNProber(network *fakeNetwork) *SYNProber {
	p := newSYNProber(network, zap.NewNop())
	p.localIP = func(net.IP) (net.IP, error) { return net.IPv4(127, 0, 0, 1).To4(), nil }
	return p
}

func TestSYNProberOpenAndSilent(t *testing.T) {
	network := newFakeNetwork()
	network.listening[22] = true

	p := newTestSYNProber(network)
	defer p.Close()

	s := NewScanner(p, 4, zap.NewNop())
	got, err := s.Scan(context.Background(), localhost, []uint16{22, 9999}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	want := []Result{{22, StateOpen}, {9999, StateClosed}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Scan() = %+v, want %+v", got, want)
	}
}

func TestSYNProberRST(t *testing.T) {
	network := newFakeNetwork()
	network.refusing[25] = true

	p := newTestSYNProber(network)
	defer p.Close()

	start := time.Now()
	state, err := p.Probe(context.Background(), localhost, 25, 5*time.Second)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if state != StateClosed {
		t.Errorf("Probe() = %s, want closed", state)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("RST should end the probe before the timeout")
	}
}

func TestSYNProberContextCancel(t *testing.T) {
	p := newTestSYNProber(newFakeNetwork())
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Probe(ctx, localhost, 80, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Probe() error = %v, want context.Canceled", err)
	}
}

func TestSYNProberCloseIdempotent(t *testing.T) {
	network := newFakeNetwork()
	p := newTestSYNProber(network)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	select {
	case <-network.closed:
	default:
		t.Error("Close() did not close the socket")
	}
}

func TestNewSYNProberUnprivileged(t *testing.T) {
	if runtime.GOOS == "linux" && os.Geteuid() == 0 {
		t.Skip("running as root, raw sockets are available")
	}
	p, err := NewSYNProber(zap.NewNop())
	if err == nil {
		p.Close()
		t.Skip("raw socket opened, process has CAP_NET_RAW")
	}
	if !errors.Is(err, ErrRawSocket) {
		t.Errorf("NewSYNProber() error = %v, want ErrRawSocket", err)
	}
}
