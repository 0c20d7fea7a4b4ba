package route

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/spike-events/spike-directory/pkg/auth"
	"github.com/spike-events/spike-directory/pkg/lock"
	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/service/request"
)

type lockController struct {
	controller
	locks *lock.Coordinator
}

func (s *Server) lockController() *lockController {
	return &lockController{controller: controller{logger: s.opts.Logger}, locks: s.opts.Locks}
}

// lockRequest builds the coordinator request for the caller. Takeover is
// honored only when the gate admitted the caller by role.
func (c *lockController) lockRequest(r *http.Request) (lock.Request, error) {
	objectID, err := idParam(r, "object_id")
	if err != nil {
		return lock.Request{}, err
	}
	req := lock.Request{
		HolderUID: callerUID(r),
		Object:    objectOf(r),
		ObjectID:  objectID,
	}
	if r.URL.Query().Get("takeover") == "true" {
		if grant, ok := auth.GrantFrom(r.Context()); ok && grant.Via == auth.GrantRole {
			req.Takeover = true
		}
	}
	return req, nil
}

func (c *lockController) get(w http.ResponseWriter, r *http.Request) {
	objectID, err := idParam(r, "object_id")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	held, err := c.locks.Get(r.Context(), objectOf(r), objectID)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, held)
}

func (c *lockController) newLock(w http.ResponseWriter, r *http.Request) {
	req, err := c.lockRequest(r)
	if err == nil {
		err = c.locks.NewLock(r.Context(), req)
	}
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.NoContent(w)
}

func (c *lockController) updateLock(w http.ResponseWriter, r *http.Request) {
	req, err := c.lockRequest(r)
	if err == nil {
		err = c.locks.UpdateLock(r.Context(), req)
	}
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.NoContent(w)
}

func (c *lockController) deleteLock(w http.ResponseWriter, r *http.Request) {
	req, err := c.lockRequest(r)
	if err == nil {
		err = c.locks.DeleteLock(r.Context(), req)
	}
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.NoContent(w)
}

func (c *lockController) getByUser(w http.ResponseWriter, r *http.Request) {
	locks, err := c.locks.ListByHolder(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, locks)
}

func (c *lockController) getByFilter(w http.ResponseWriter, r *http.Request) {
	var filter models.LockFilter
	if err := request.ParseData(r, &filter); err != nil {
		request.InvalidParams(err).Write(w)
		return
	}
	locks, err := c.locks.ListByFilter(r.Context(), filter)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, locks)
}
