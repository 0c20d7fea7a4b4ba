package route

import (
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spike-events/spike-directory/pkg/auth"
	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/route/socket"
)

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.opts.Config.Debug() {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(ContentTypeJSONMiddleware)

	corsOpts := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "Cache-Control"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})
	r.Use(corsOpts.Handler)

	r.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	r.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})

	// Register pprof handlers
	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	r.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	r.Handle("/debug/pprof/block", pprof.Handler("block"))
	r.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))
	r.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/um", s.um)

	me := s.meController()
	dashboard := r.With(auth.Authenticate(s.opts.Verifier, s.opts.Logger))
	dashboard.Get("/users/me/dashboard", me.getDashboard)
	dashboard.Put("/users/me/dashboard", me.setDashboard)
	return r
}

// um mounts the directory API. Every route needs a verified credential.
func (s *Server) um(r chi.Router) {
	timeout := s.opts.Config.HTTPTimeout
	if timeout <= 0 {
		timeout = models.DefaultHTTPTimeout
	}
	gate := s.opts.Gate
	admins := s.opts.Config.Auth.AdminRoles
	asAdmin := gate.Middleware(gate.RequireAnyRole(admins...))

	r.Use(auth.Authenticate(s.opts.Verifier, s.opts.Logger))

	// The feed is long lived and must not run under the request timeout.
	if s.opts.Feed != nil {
		r.Get("/ws/locks", socket.NewConnectionWS(s.ctx, s.opts.Feed, s.opts.Logger, s.opts.Config.Debug()))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		me := s.meController()
		r.Get("/", me.getAuthInfo)
		r.Get("/me", me.getUser)
		r.Get("/me/full", me.getFullUser)
		r.Get("/me/roles", me.getRoles)

		locks := s.lockController()
		limit := RateLimit(s.opts.Config.Locks.RateLimit, s.opts.Config.Locks.RateBurst)

		// Users lock: anyone may lock their own record.
		asSelf := r.With(limit, gate.Middleware(gate.RequireSelfOrAnyRole("object_id", admins...)), objectParam(models.UsersTable))
		asSelf.Put("/lock/users/{object_id}", locks.newLock)
		asSelf.Post("/lock/users/{object_id}", locks.updateLock)
		asSelf.Delete("/lock/users/{object_id}", locks.deleteLock)
		r.With(objectParam(models.UsersTable)).Get("/lock/users/{object_id}", locks.get)
		r.Get("/lock/{object}/{object_id}", locks.get)
		r.With(limit, asAdmin).Put("/lock/{object}/{object_id}", locks.newLock)
		r.With(limit, asAdmin).Post("/lock/{object}/{object_id}", locks.updateLock)
		r.With(limit, asAdmin).Delete("/lock/{object}/{object_id}", locks.deleteLock)
		r.Get("/locks/{uid}", locks.getByUser)
		r.Post("/locks/byfilter", locks.getByFilter)

		users := s.userController()
		r.Get("/users", users.getUsers)
		r.Get("/users/{page}", users.getUsers)
		r.Get("/users/{page}/{per_page}", users.getUsers)
		r.Get("/user/{id}", users.getUser)
		r.Get("/user/{id}/full", users.getFullUser)
		r.With(asAdmin).Put("/user", users.newUser)
		r.With(gate.Middleware(gate.RequireSelfOrAnyRole("id", admins...))).Put("/user/{id}", users.updateUser)
		r.With(asAdmin).Delete("/user/{id}", users.deleteUser)
		r.Get("/user/{id}/roles", users.getRolesAsSlugs)
		r.Get("/user/{id}/roles/full", users.getRoles)
		r.With(asAdmin).Put("/user/{id}/roles", users.updateRoles)
		r.With(asAdmin).Put("/user/{id}/role/{roleId}", users.setRole)
		r.With(asAdmin).Delete("/user/{id}/role/{roleId}", users.deleteRole)
		r.Get("/user/uid/{uid}", users.getUserByUID)
		r.Get("/user/uid/{uid}/full", users.getFullUserByUID)
		r.Get("/user/uid/{uid}/roles", users.getRolesAsSlugsByUID)
		r.Get("/user/uid/{uid}/roles/full", users.getRolesByUID)
		if s.opts.Source != nil {
			r.With(asAdmin).Get("/sync/users", users.syncUsers)
		}

		mountCatalog(r, "/roles", "/role", newCatalogController(s, s.opts.Directory.Roles), asAdmin)
		mountCatalog(r, "/groups", "/group", newCatalogController(s, s.opts.Directory.Groups), asAdmin)
		mountCatalog(r, "/job_titles", "/job_title", newCatalogController(s, s.opts.Directory.JobTitles), asAdmin)
	})
}

func mountCatalog[T any](r chi.Router, list, item string, c *catalogController[T], asAdmin func(http.Handler) http.Handler) {
	r.Get(list, c.getAll)
	r.Get(item+"/{id}", c.get)
	r.Get(item+"/slug/{slug}", c.getBySlug)
	r.With(asAdmin).Put(item, c.insert)
	r.With(asAdmin).Put(item+"/{id}", c.update)
	r.With(asAdmin).Delete(item+"/{id}", c.delete)
}
