package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/ipgate/internal/httpmw"
	"github.com/keithlinneman/ipgate/internal/log"
)

// DefaultPort is the public listener port.
const DefaultPort = 3000

type Options struct {
	Logger log.Logger
	Port   int

	UseRecoverMW bool
	OnPanic      func()

	ClientIPOpts httpmw.ClientIPOptions

	// GateMW runs inside the router ahead of every route, including 404s.
	GateMW    func(http.Handler) http.Handler
	MetricsMW func(http.Handler) http.Handler

	// Routes registers the public routes, after the router middleware.
	Routes func(chi.Router)
}
