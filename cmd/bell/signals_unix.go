//go:build !windows

package main

import (
	"os"
	"syscall"
)

var emergencySignals = []os.Signal{syscall.SIGUSR1}
