package httpmw

import (
	"errors"
	"net/http"

	"github.com/keithlinneman/ipgate/internal/log"
	"github.com/keithlinneman/ipgate/internal/xerrors"
)

// Recover turns a handler panic into a 500 and an error log. onPanic, if set,
// runs after logging (the metrics panic counter). http.ErrAbortHandler is
// re-panicked so net/http can abort the connection as intended.
func Recover(L log.Logger, onPanic func()) Middleware {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				var err error
				switch e := v.(type) {
				case error:
					err = xerrors.Wrap(e, "panic")
				default:
					err = xerrors.Newf("panic: %v", e)
				}

				L.With("http.request.method", r.Method, "url.path", r.URL.Path).
					Error(r.Context(), err, "httpserver panic recovered")
				if onPanic != nil {
					onPanic()
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
