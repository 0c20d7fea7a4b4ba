package auth

import (
	"context"
	"errors"

	"github.com/spike-events/spike-directory/pkg/directory"
	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/service"
)

// UserDirectory is the part of the directory role resolution reads.
type UserDirectory interface {
	FindByUID(ctx context.Context, uid string) (*models.User, error)
	CountAll(ctx context.Context) (int64, error)
	ListRoleSlugs(ctx context.Context, id int64) ([]string, error)
	ListAllRoleSlugs(ctx context.Context) ([]string, error)
}

// BootstrapLatch persists whether bootstrap trust was ever closed.
type BootstrapLatch interface {
	BootstrapOpen(ctx context.Context) (bool, error)
	CloseBootstrap(ctx context.Context, reason string) error
}

type RoleResolverOptions struct {
	Directory UserDirectory
	// Latch is required by the latched bootstrap policy.
	Latch         BootstrapLatch
	BreakGlassUID string
	Bootstrap     string
	Metrics       *Metrics
	Logger        service.Logger
	Debug         bool
}

// RoleResolver maps a caller uid to its effective role slugs.
type RoleResolver struct {
	opts RoleResolverOptions
}

func NewRoleResolver(opts RoleResolverOptions) *RoleResolver {
	if opts.Logger == nil {
		opts.Logger = service.DefaultLogger("")
	}
	if opts.Bootstrap == "" {
		opts.Bootstrap = models.BootstrapLatched
	}
	return &RoleResolver{opts: opts}
}

// GetRoleSlugs resolves, in order: the break-glass identity, the roles
// assigned in the directory, then bootstrap trust for unknown callers.
// Unknown callers outside bootstrap get ErrUnknownIdentity; store failures
// come back as *directory.LookupError.
func (s *RoleResolver) GetRoleSlugs(ctx context.Context, uid string) ([]string, error) {
	if s.opts.BreakGlassUID != "" && uid == s.opts.BreakGlassUID {
		s.opts.Logger.Printf("auth: break-glass identity %s granted every role", uid)
		s.opts.Metrics.elevation("break_glass")
		return s.allRoles(ctx)
	}

	user, err := s.opts.Directory.FindByUID(ctx, uid)
	if err == nil {
		slugs, err := s.opts.Directory.ListRoleSlugs(ctx, user.ID)
		if err != nil {
			return nil, asLookupError("list role slugs", err)
		}
		return slugs, nil
	}
	if !errors.Is(err, directory.ErrNotFound) {
		return nil, asLookupError("find user", err)
	}
	return s.bootstrap(ctx, uid)
}

func (s *RoleResolver) bootstrap(ctx context.Context, uid string) ([]string, error) {
	if s.opts.Bootstrap == models.BootstrapDisabled {
		return nil, ErrUnknownIdentity
	}
	count, err := s.opts.Directory.CountAll(ctx)
	if err != nil {
		return nil, asLookupError("count users", err)
	}
	latched := s.opts.Bootstrap == models.BootstrapLatched && s.opts.Latch != nil
	if count > 0 {
		if latched {
			if err = s.opts.Latch.CloseBootstrap(ctx, "users present"); err != nil {
				s.opts.Logger.Printf("auth: failed to close bootstrap: %v", err)
			}
		}
		if s.opts.Debug {
			s.opts.Logger.Printf("auth: unknown identity %s", uid)
		}
		return nil, ErrUnknownIdentity
	}
	if latched {
		open, err := s.opts.Latch.BootstrapOpen(ctx)
		if err != nil {
			return nil, asLookupError("read bootstrap flag", err)
		}
		if !open {
			s.opts.Logger.Printf("auth: bootstrap is closed, refusing unknown identity %s on an empty directory", uid)
			return nil, ErrUnknownIdentity
		}
	}
	s.opts.Logger.Printf("auth: bootstrap mode, granting every role to %s", uid)
	s.opts.Metrics.elevation("bootstrap")
	return s.allRoles(ctx)
}

func (s *RoleResolver) allRoles(ctx context.Context) ([]string, error) {
	slugs, err := s.opts.Directory.ListAllRoleSlugs(ctx)
	if err != nil {
		return nil, asLookupError("list all role slugs", err)
	}
	return slugs, nil
}

func asLookupError(op string, err error) error {
	var lookup *directory.LookupError
	if errors.As(err, &lookup) {
		return err
	}
	return &directory.LookupError{Op: op, Err: err}
}
