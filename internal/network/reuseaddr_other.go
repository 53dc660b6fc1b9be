//go:build !unix && !windows

package network

import "net"

// ReuseAddrListenConfig returns a plain ListenConfig on platforms without
// socket options.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
