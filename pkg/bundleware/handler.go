package bundleware

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// ContentType is sent with every served bundle.
const ContentType = "text/javascript"

// ErrorHandler receives build errors from HTTPHandler in place of a response.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Handler returns a Fiber handler serving the bundle. A build error is
// returned to Fiber's error handler unchanged; a request still waiting when
// the middleware closes gets 503.
func (m *Middleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		code, err := m.Result(c.UserContext())
		if errors.Is(err, ErrClosed) {
			return fiber.ErrServiceUnavailable
		}
		if err != nil {
			return err
		}

		c.Set(fiber.HeaderContentType, ContentType)
		return c.SendString(code)
	}
}

// HTTPHandler returns a net/http handler serving the bundle. Build errors
// go to next; a nil next answers 500 with the error text. Requests whose
// client went away are dropped without a response.
func (m *Middleware) HTTPHandler(next ErrorHandler) http.Handler {
	if next == nil {
		next = defaultErrorHandler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code, err := m.Result(r.Context())
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			next(w, r, err)
			return
		}

		w.Header().Set("Content-Type", ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(code)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.WriteString(w, code); err != nil {
			log.Debug().Err(err).Msg("Failed to write bundle response")
		}
	})
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrClosed) {
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
