package httpserver

import "time"

// ShutdownTimeout controls how long to wait for in-flight generations when
// the process is asked to stop.
var ShutdownTimeout = 30 * time.Second
