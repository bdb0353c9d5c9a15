package daemon

import "syscall"

// NewSysProcAttr detaches a forked daemon from the controlling terminal
// by starting it in its own session.
func NewSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
