package route

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/spike-events/spike-directory/pkg/directory"
	"github.com/spike-events/spike-directory/pkg/lock"
	"github.com/spike-events/spike-directory/pkg/service/request"
)

// catalogController serves roles, groups and job titles alike.
type catalogController[T any] struct {
	controller
	catalog *directory.Catalog[T]
	locks   *lock.Coordinator
}

func newCatalogController[T any](s *Server, catalog *directory.Catalog[T]) *catalogController[T] {
	return &catalogController[T]{
		controller: controller{logger: s.opts.Logger},
		catalog:    catalog,
		locks:      s.opts.Locks,
	}
}

func (c *catalogController[T]) getAll(w http.ResponseWriter, r *http.Request) {
	rows, err := c.catalog.GetAll(r.Context())
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, rows)
}

func (c *catalogController[T]) get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	row, err := c.catalog.GetByID(r.Context(), id)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, row)
}

func (c *catalogController[T]) getBySlug(w http.ResponseWriter, r *http.Request) {
	row, err := c.catalog.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	request.OK(w, row)
}

func (c *catalogController[T]) insert(w http.ResponseWriter, r *http.Request) {
	row := new(T)
	if err := request.ParseData(r, row); err != nil {
		request.InvalidParams(err).Write(w)
		return
	}
	if err := c.catalog.Insert(r.Context(), row); err != nil {
		c.fail(w, r, err)
		return
	}
	request.NoContent(w)
}

func (c *catalogController[T]) update(w http.ResponseWriter, r *http.Request) {
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
	n, err := c.catalog.Update(r.Context(), id, changes)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	c.count(w, n)
}

func (c *catalogController[T]) delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		c.fail(w, r, err)
		return
	}
	if err = c.locks.DeleteUnlocked(r.Context(), c.catalog, id); err != nil {
		c.fail(w, r, err)
		return
	}
	request.NoContent(w)
}
