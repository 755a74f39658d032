package opshttp

import (
	"net/http"

	"github.com/keithlinneman/ipgate/internal/health"
)

// DefaultPort is the admin listener port.
const DefaultPort = 9000

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// GateState backs /debug/gate. Nil leaves the route unregistered.
	GateState func() any

	UseRecoverMW bool
	OnPanic      func()
}
