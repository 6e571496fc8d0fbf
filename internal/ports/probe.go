package ports

import (
	"net"
	"strconv"
)

// Prober tells whether a host port can be bound right now.
type Prober interface {
	Available(port int) bool
}

// TCPProber binds a throwaway TCP listener on every interface and closes it
// immediately. Success only proves the port was free at that instant.
type TCPProber struct {
	// Host restricts the probe to one address; empty means all interfaces.
	Host string
}

// Available implements Prober.
func (p TCPProber) Available(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort(p.Host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(port int) bool

// Available implements Prober.
func (f ProberFunc) Available(port int) bool { return f(port) }
