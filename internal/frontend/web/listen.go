package web

import (
	"fmt"
	"net"
)

func netListen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding web interface: %w", err)
	}
	return ln, nil
}
