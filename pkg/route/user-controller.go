package route

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/spike-events/spike-directory/pkg/directory"
	"github.com/spike-events/spike-directory/pkg/lock"
	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/service/request"
)

// userPage is one page of the users listing.
type userPage struct {
	Total       int64             `json:"total"`
	CurrentPage int               `json:"current_page"`
	PerPage     int               `json:"per_page"`
	LastPage    int64             `json:"last_page"`
	Data        []models.FullUser `json:"data"`
}

type userController struct {
	controller
	users  *directory.Users
	dir    *directory.Directory
	locks  *lock.Coordinator
	source directory.UserSource
}

func (s *Server) userController() *userController {
	return &userController{
		controller: controller{logger: s.opts.Logger},
		users:      s.opts.Directory.Users,
		dir:        s.opts.Directory,
		locks:      s.opts.Locks,
		source:     s.opts.Source,
	}
}

func (c *userController) getUsers(w http.ResponseWriter, r *http.Request) {
	var q directory.UserQuery
	if err := request.ParseQuery(r, &q); err != nil {
		request.InvalidParams(err).Write(w)
		return
	}
	if chi.URLParam(r, "page") != "" {
		page, err := idParam(r, "page")
		if err != nil {
			c.fail(w, r, err)
			return
		}
		q.Page = int(page)
	}
	if chi.URLParam(r, "per_page") != "" {
		perPage, err := idParam(r, "per_page")
		if err != nil {
			c.fail(w, r, err)
			return
		}
		q.PerPage = int(perPage)
	}

	total, users, err := c.users.List(r.Context(), q)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	page, perPage := q.Bounds()
	lastPage := (total + int64(perPage) - 1) / int64(perPage)
	if lastPage < 1 {
		lastPage = 1
	}
	request.OK(w, userPage{
		Total:       total,
		CurrentPage: page,
		PerPage:     perPage,
		LastPage:    lastPage,
		Data:        users,
	})
}

func (c *userController) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	user, err := c.users.Get(r.Context(), id)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, user)
}

func (c *userController) getFullUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	user, err := c.users.GetFull(r.Context(), id)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, user)
}

func (c *userController) getUserByUID(w http.ResponseWriter, r *http.Request) {
	user, err := c.users.GetByUID(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, user)
}

func (c *userController) getFullUserByUID(w http.ResponseWriter, r *http.Request) {
	user, err := c.users.GetFullByUID(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, user)
}

func (c *userController) newUser(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := request.ParseData(r, &user); err != nil {
		request.InvalidParams(err).Write(w)
		return
	}
	user.ID = 0
	if err := c.users.Insert(r.Context(), &user); err != nil {
		c.fail(w, r, err)
		return
	}
	request.NoContent(w)
}

func (c *userController) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	var changes map[string]interface{}
	if err = request.ParseData(r, &changes); err != nil {
		request.InvalidParams(err).Write(w)
		return
	}
	n, err := c.users.Update(r.Context(), id, changes)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	c.count(w, n)
}

// deleteUser refuses to delete a user whose record is locked.
func (c *userController) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	if err = c.locks.DeleteUnlocked(r.Context(), c.users, id); err != nil {
		c.fail(w, r, err)
		return
	}
	request.NoContent(w)
}

func (c *userController) getRoles(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	roles, err := c.users.GetRoles(r.Context(), id)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, roles)
}

func (c *userController) getRolesAsSlugs(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	slugs, err := c.users.GetRolesAsSlugs(r.Context(), id)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, slugs)
}

func (c *userController) getRolesByUID(w http.ResponseWriter, r *http.Request) {
	roles, err := c.users.GetRolesByUID(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, roles)
}

func (c *userController) getRolesAsSlugsByUID(w http.ResponseWriter, r *http.Request) {
	user, err := c.users.GetByUID(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	slugs, err := c.users.GetRolesAsSlugs(r.Context(), user.ID)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, slugs)
}

// updateRoles replaces the user's roles with the JSON array of role ids in
// the body.
func (c *userController) updateRoles(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	var roleIDs []int64
	if err = request.ParseData(r, &roleIDs); err != nil {
		request.InvalidParams(err).Write(w)
		return
	}
	if err = c.users.UpdateRoles(r.Context(), id, roleIDs); err != nil {
		c.fail(w, r, err)
		return
	}
	request.NoContent(w)
}

func (c *userController) setRole(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	roleID, err := idParam(r, "roleId")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	if err = c.users.SetRole(r.Context(), id, roleID); err != nil {
		c.fail(w, r, err)
		return
	}
	request.NoContent(w)
}

func (c *userController) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	roleID, err := idParam(r, "roleId")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	n, err := c.users.DeleteRole(r.Context(), id, roleID)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	if n == 0 {
		e := request.ErrorNotFound
		e.Write(w)
		return
	}
	request.NoContent(w)
}

func (c *userController) syncUsers(w http.ResponseWriter, r *http.Request) {
	result, err := c.dir.Sync(r.Context(), c.source, callerUID(r))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, result)
}
