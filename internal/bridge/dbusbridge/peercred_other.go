//go:build !linux

package dbusbridge

import (
	"errors"
	"net"
)

// PeerCredentials is unavailable outside Linux; usb-moded only ships for
// Linux gadget kernels, but this keeps the package buildable for
// development on other hosts.
func PeerCredentials(conn *net.UnixConn) (uid, pid, gid int, err error) {
	return 0, 0, 0, errors.New("dbusbridge: SO_PEERCRED is only available on linux")
}
