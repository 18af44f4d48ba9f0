// Package timeouts defines shared timeout constants used across the
// intake runtime. Centralizing these values prevents drift between
// components and makes the durations discoverable.
package timeouts

import "time"

// APIRequest caps a single backend API call during a sync run.
const APIRequest = 30 * time.Second

// Probe caps a reachability check against the backend.
const Probe = 3 * time.Second

// Shutdown limits how long the runtime waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
