package main

import "os"

// Windows has no user signals; use the service manager to stop bells.
var emergencySignals []os.Signal
