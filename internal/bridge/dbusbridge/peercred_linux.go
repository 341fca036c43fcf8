//go:build linux

package dbusbridge

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// PeerCredentials recovers the uid/pid/gid of the process on the other end
// of a Unix domain socket connection via SO_PEERCRED, the same mechanism
// used to authenticate local socket clients before trusting anything they
// send.
func PeerCredentials(conn *net.UnixConn) (uid, pid, gid int, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("dbusbridge: raw conn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return 0, 0, 0, fmt.Errorf("dbusbridge: control: %w", ctrlErr)
	}
	if credErr != nil {
		return 0, 0, 0, fmt.Errorf("dbusbridge: getsockopt SO_PEERCRED: %w", credErr)
	}
	return int(cred.Uid), int(cred.Pid), int(cred.Gid), nil
}
