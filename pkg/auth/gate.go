package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/spike-events/spike-directory/pkg/directory"
	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/service"
	"github.com/spike-events/spike-directory/pkg/service/request"
)

type GrantKind string

const (
	GrantSelf GrantKind = "self"
	GrantRole GrantKind = "role"
)

// Grant records why a request was admitted.
type Grant struct {
	UID  string
	Via  GrantKind
	Role string
}

// Guard admits a request with a grant or rejects it with ErrUnauthenticated,
// ErrForbidden, ErrUnknownIdentity or a lookup failure.
type Guard func(r *http.Request) (*Grant, error)

// Chain runs guards left to right and stops at the first rejection. The grant
// of the last guard wins.
func Chain(guards ...Guard) Guard {
	return func(r *http.Request) (*Grant, error) {
		var grant *Grant
		for _, guard := range guards {
			g, err := guard(r)
			if err != nil {
				return nil, err
			}
			grant = g
		}
		return grant, nil
	}
}

type RoleSource interface {
	GetRoleSlugs(ctx context.Context, uid string) ([]string, error)
}

type UserLookup interface {
	FindByUID(ctx context.Context, uid string) (*models.User, error)
}

type GateOptions struct {
	Roles   RoleSource
	Users   UserLookup
	Metrics *Metrics
	Logger  service.Logger
	Debug   bool
}

// Gate builds the guards protecting directory routes.
type Gate struct {
	opts GateOptions
}

func NewGate(opts GateOptions) *Gate {
	if opts.Logger == nil {
		opts.Logger = service.DefaultLogger("")
	}
	return &Gate{opts: opts}
}

// RequireAnyRole admits callers holding at least one of allowed.
func (g *Gate) RequireAnyRole(allowed ...string) Guard {
	return func(r *http.Request) (*Grant, error) {
		uid, ok := UID(r)
		if !ok {
			g.opts.Metrics.decision("any_role", "unauthenticated")
			return nil, ErrUnauthenticated
		}
		slugs, err := g.opts.Roles.GetRoleSlugs(r.Context(), uid)
		if err != nil {
			g.opts.Metrics.decision("any_role", "error")
			return nil, err
		}
		if g.opts.Debug {
			g.opts.Logger.Printf("auth: %s has roles %v, needs one of %v", uid, slugs, allowed)
		}
		for _, role := range allowed {
			for _, slug := range slugs {
				if slug == role {
					g.opts.Metrics.decision("any_role", "allow")
					return &Grant{UID: uid, Via: GrantRole, Role: role}, nil
				}
			}
		}
		g.opts.Metrics.decision("any_role", "deny")
		return nil, ErrForbidden
	}
}

// RequireSelfOrAnyRole admits the caller whose internal id equals the route
// parameter param, and otherwise falls back to RequireAnyRole.
func (g *Gate) RequireSelfOrAnyRole(param string, allowed ...string) Guard {
	byRole := g.RequireAnyRole(allowed...)
	return func(r *http.Request) (*Grant, error) {
		uid, ok := UID(r)
		if !ok {
			g.opts.Metrics.decision("self_or_role", "unauthenticated")
			return nil, ErrUnauthenticated
		}
		user, err := g.opts.Users.FindByUID(r.Context(), uid)
		switch {
		case err == nil:
			id, perr := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
			if perr == nil && id == user.ID {
				g.opts.Metrics.decision("self_or_role", "self")
				return &Grant{UID: uid, Via: GrantSelf}, nil
			}
		case !errors.Is(err, directory.ErrNotFound):
			g.opts.Metrics.decision("self_or_role", "error")
			return nil, asLookupError("find user", err)
		}
		return byRole(r)
	}
}

type grantKey struct{}

// GrantFrom returns the grant the gate admitted the request with.
func GrantFrom(ctx context.Context) (*Grant, bool) {
	grant, ok := ctx.Value(grantKey{}).(*Grant)
	return grant, ok && grant != nil
}

// Middleware enforces guards ahead of a handler. Rejections get a bare 401 or
// 403 so the reason does not leak; lookup failures are internal errors.
func (g *Gate) Middleware(guards ...Guard) func(http.Handler) http.Handler {
	guard := Chain(guards...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			grant, err := guard(r)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), grantKey{}, grant)))
			case errors.Is(err, ErrUnauthenticated):
				w.WriteHeader(http.StatusUnauthorized)
			case errors.Is(err, ErrForbidden), errors.Is(err, ErrUnknownIdentity):
				if g.opts.Debug {
					g.opts.Logger.Printf("auth: %s %s refused: %v", r.Method, r.URL.Path, err)
				}
				w.WriteHeader(http.StatusForbidden)
			default:
				g.opts.Logger.Printf("auth: %s %s failed: %v", r.Method, r.URL.Path, err)
				request.InternalError(err).Write(w)
			}
		})
	}
}
