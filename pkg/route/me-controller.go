package route

import (
	"errors"
	"io"
	"net/http"

	"github.com/spike-events/spike-directory/pkg/auth"
	"github.com/spike-events/spike-directory/pkg/directory"
	"github.com/spike-events/spike-directory/pkg/service/request"
)

// authInfo answers GET /um/.
type authInfo struct {
	UID    string   `json:"uid"`
	Roles  []string `json:"roles"`
	Status string   `json:"status"`
}

// meController serves the caller's own records.
type meController struct {
	controller
	users      *directory.Users
	dashboards *directory.Dashboards
	roles      *auth.RoleResolver
}

func (s *Server) meController() *meController {
	return &meController{
		controller: controller{logger: s.opts.Logger},
		users:      s.opts.Directory.Users,
		dashboards: s.opts.Directory.Dashboards,
		roles:      s.opts.Roles,
	}
}

// effectiveRoles are the caller's roles as authorization sees them. Unknown
// callers have none.
func (c *meController) effectiveRoles(r *http.Request) ([]string, error) {
	roles, err := c.roles.GetRoleSlugs(r.Context(), callerUID(r))
	if errors.Is(err, auth.ErrUnknownIdentity) {
		return []string{}, nil
	}
	return roles, err
}

func (c *meController) getAuthInfo(w http.ResponseWriter, r *http.Request) {
	roles, err := c.effectiveRoles(r)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, authInfo{UID: callerUID(r), Roles: roles, Status: "Authenticated"})
}

func (c *meController) getRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := c.effectiveRoles(r)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, roles)
}

func (c *meController) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := c.users.GetByUID(r.Context(), callerUID(r))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, user)
}

func (c *meController) getFullUser(w http.ResponseWriter, r *http.Request) {
	user, err := c.users.GetFullByUID(r.Context(), callerUID(r))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, user)
}

func (c *meController) getDashboard(w http.ResponseWriter, r *http.Request) {
	doc, err := c.dashboards.Get(r.Context(), callerUID(r))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (c *meController) setDashboard(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(r.Body)
	if err != nil {
		request.InvalidParams(err).Write(w)
		return
	}
	if err = c.dashboards.Set(r.Context(), callerUID(r), doc); err != nil {
		c.fail(w, r, err)
		return
	}
	request.NoContent(w)
}
