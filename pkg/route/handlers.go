package route

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/spike-events/spike-directory/pkg/auth"
	"github.com/spike-events/spike-directory/pkg/directory"
	"github.com/spike-events/spike-directory/pkg/lock"
	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/service"
	"github.com/spike-events/spike-directory/pkg/service/request"
	"golang.org/x/time/rate"
)

// ContentTypeJSONMiddleware defaults every response to JSON.
func ContentTypeJSONMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// RateLimit shares one token bucket of limit requests per second between all
// callers of the wrapped routes. A zero limit disables it.
func RateLimit(limit float64, burst int) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				e := request.ErrorTooManyRequests
				e.Write(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type objectKey struct{}

// objectParam fixes the lock object for routes that do not carry it in the
// path.
func objectParam(object string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), objectKey{}, object)))
		})
	}
}

func objectOf(r *http.Request) string {
	if object, ok := r.Context().Value(objectKey{}).(string); ok {
		return object
	}
	return chi.URLParam(r, "object")
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %s %q", directory.ErrInvalidParams, name, raw)
	}
	return id, nil
}

// callerUID is the uid bound by Authenticate; routes behind it always have one.
func callerUID(r *http.Request) string {
	uid, _ := auth.UID(r)
	return uid
}

// conflictBody is the 409 answer to a mutation refused by a lock.
type conflictBody struct {
	Lock       models.Lock  `json:"lock"`
	HolderUser *models.User `json:"holderUser"`
}

type controller struct {
	logger service.Logger
}

// fail writes the response matching err.
func (c controller) fail(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *lock.ConflictError
	switch {
	case errors.As(err, &conflict):
		request.JSON(w, http.StatusConflict, conflictBody{Lock: conflict.Lock, HolderUser: conflict.Holder})
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, lock.ErrNotFound):
		e := request.ErrorNotFound
		e.Write(w)
	case errors.Is(err, directory.ErrInvalidParams), errors.Is(err, lock.ErrInvalidArgument):
		request.InvalidParams(err).Write(w)
	case errors.Is(err, directory.ErrAlreadyExists):
		e := request.ErrorInformationAlreadyExists
		e.Write(w)
	default:
		c.logger.Printf("route: %s %s: %v", r.Method, r.URL.Path, err)
		request.InternalError(err).Write(w)
	}
}

// count answers an update: 404 when nothing matched, else the row count.
func (c controller) count(w http.ResponseWriter, n int64) {
	if n == 0 {
		e := request.ErrorNotFound
		e.Write(w)
		return
	}
	request.OK(w, map[string]int64{"count": n})
}
