package portscan

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

const readPollInterval = 200 * time.Millisecond

// rawSocket is an AF_INET/SOCK_RAW socket with IP_HDRINCL set
type rawSocket struct {
	fd int
}

func openRawSocket() (rawConn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_TCP)
	if err != nil {
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
			return nil, fmt.Errorf("%w: %v", ErrRawSocket, err)
		}
		return nil, fmt.Errorf("%w: socket: %v", ErrRawSocket, err)
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set IP_HDRINCL: %w", err)
	}

	tv := unix.NsecToTimeval(readPollInterval.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set receive timeout: %w", err)
	}

	return &rawSocket{fd: fd}, nil
}

func (s *rawSocket) WriteTo(pkt []byte, dst net.IP) error {
	addr := unix.SockaddrInet4{}
	copy(addr.Addr[:], dst.To4())
	return unix.Sendto(s.fd, pkt, 0, &addr)
}

func (s *rawSocket) ReadFrom(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
			return 0, errReadTimeout
		}
		return 0, err
	}
	return n, nil
}

func (s *rawSocket) Close() error {
	return unix.Close(s.fd)
}
