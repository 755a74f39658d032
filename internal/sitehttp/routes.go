// Package sitehttp registers the public routes that sit behind the gate.
package sitehttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/ipgate/internal/httpmw"
	"github.com/keithlinneman/ipgate/internal/log"
)

// Greeting is the body served to admitted clients.
const Greeting = "Hello, World!"

type Routes struct{}

func New() *Routes {
	return &Routes{}
}

// RegisterRoutes adds GET / (and HEAD /). Anything else falls through to the
// router's 404, which still runs after the gate.
func (rt *Routes) RegisterRoutes(r chi.Router) {
	r.Get("/", rt.greet)
	r.Head("/", rt.greet)
}

func (rt *Routes) greet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log.FromContext(ctx).Info(ctx, "client connected", "client.address", httpmw.ClientIPFromContext(ctx))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(Greeting))
}
