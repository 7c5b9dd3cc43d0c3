package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rmanoop25/Facility360-sub001/internal/platform/db"
)

const maxStackBytes = 4096

// Recovery turns a handler panic into a 500 and logs it with the request's
// facility and id so it can be matched to the access log line.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req := c.Request()
				rid, _ := c.Get("request_id").(string)

				ev := logger.Error().
					Str("request_id", rid).
					Str("facility_id", db.FacilityFromContext(req.Context())).
					Str("method", req.Method).
					Str("path", req.URL.Path).
					Str("stack", panicStack())
				if perr, ok := r.(error); ok {
					ev = ev.Err(perr)
				} else {
					ev = ev.Str("panic", fmt.Sprint(r))
				}
				ev.Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}

func panicStack() string {
	buf := make([]byte, maxStackBytes)
	return string(buf[:runtime.Stack(buf, false)])
}
