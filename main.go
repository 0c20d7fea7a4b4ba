package spikedirectory

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/uuid"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spike-events/spike-directory/pkg/auth"
	"github.com/spike-events/spike-directory/pkg/directory"
	"github.com/spike-events/spike-directory/pkg/lock"
	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/models/migration"
	"github.com/spike-events/spike-directory/pkg/providers"
	"github.com/spike-events/spike-directory/pkg/route"
	"github.com/spike-events/spike-directory/pkg/service"
	"github.com/spike-events/spike-directory/pkg/service/providers/nats"
	"gorm.io/gorm"
)

// directoryServer is every long running part of one instance.
type directoryServer struct {
	options models.DirectoryOptions
	logger  service.Logger
	key     uuid.UUID

	db        *gorm.DB
	localNats *natsserver.Server
	bus       *nats.NatsConn
	directory *directory.Directory
	route     *route.Server
	services  []service.Service
}

// NewDirectoryServer starts a directory instance and stops it on SIGINT or
// SIGTERM. ctx ends once every service stopped; connected receives true when
// the instance serves requests.
func NewDirectoryServer(options models.DirectoryOptions) (ctx context.Context, connected chan bool, err error) {
	d, err := newDirectoryServer(options, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	connected = make(chan bool, 1)
	if err = d.start(ctx); err != nil {
		cancel()
		d.stop()
		return nil, nil, err
	}

	go func() {
		receivedSignal := make(chan os.Signal, 1)
		signal.Notify(receivedSignal, syscall.SIGINT, syscall.SIGTERM)
		connected <- true
		sig := <-receivedSignal
		log.Printf("main: terminating with sig %s, giving %.0f seconds to in-flight requests",
			sig.String(), options.StopTimeout.Seconds())
		d.stop()
		cancel()
	}()
	return ctx, connected, nil
}

func newDirectoryServer(options models.DirectoryOptions, reg prometheus.Registerer) (_ *directoryServer, err error) {
	if options.StopTimeout == 0 {
		options.StopTimeout = models.DefaultStopTimeout
	}
	if err = options.IsValid(); err != nil {
		return nil, err
	}

	key, _ := uuid.NewV4()
	d := &directoryServer{
		options: options,
		logger:  service.DefaultLogger(""),
		key:     uuid.NewV5(key, "github.com/spike-events/spike-directory"),
	}
	defer func() {
		if err != nil {
			d.stop()
		}
	}()

	d.db, err = providers.Open(options.Database.Provider, options.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	log.Println(">> Migrating", migration.Name)
	err = migration.NewBase(d.db, d.key, d.logger).Run(context.Background(), migration.Name, migration.Directory())
	if err != nil {
		return nil, err
	}
	log.Println("<< Migrated", migration.Name)

	var events lock.Publisher
	if options.NatsConfig != nil {
		if events, err = d.connectNats(); err != nil {
			return nil, err
		}
	}

	verifier, err := newVerifier(options.Auth)
	if err != nil {
		return nil, err
	}

	debug := options.Debug()
	lockMetrics := lock.NewMetrics(reg)
	authMetrics := auth.NewMetrics(reg)
	store := lock.NewGormStore(d.db)

	d.directory = directory.New(d.db, d.logger)
	coordinator := lock.NewCoordinator(store, lock.CoordinatorOptions{
		Holders: d.directory,
		Events:  events,
		Metrics: lockMetrics,
		Logger:  d.logger,
		Debug:   debug,
	})
	resolver := auth.NewRoleResolver(auth.RoleResolverOptions{
		Directory:     d.directory,
		Latch:         d.directory,
		BreakGlassUID: options.Auth.BreakGlassUID,
		Bootstrap:     options.Auth.Bootstrap,
		Metrics:       authMetrics,
		Logger:        d.logger,
		Debug:         debug,
	})
	gate := auth.NewGate(auth.GateOptions{
		Roles:   resolver,
		Users:   d.directory,
		Metrics: authMetrics,
		Logger:  d.logger,
		Debug:   debug,
	})
	sweeper, err := lock.NewSweeper(store, options.Locks.TTL, lock.SweeperOptions{
		Events:  events,
		Metrics: lockMetrics,
		Logger:  d.logger,
		Debug:   debug,
	})
	if err != nil {
		return nil, err
	}

	routeOptions := route.Options{
		Config:    options,
		Directory: d.directory,
		Locks:     coordinator,
		Verifier:  verifier,
		Roles:     resolver,
		Gate:      gate,
		Logger:    d.logger,
	}
	if options.Sync.UsersFile != "" {
		routeOptions.Source = directory.FileSource{Path: options.Sync.UsersFile}
	}
	if d.bus != nil {
		routeOptions.Feed = d.bus
	}
	d.route = route.NewServer(routeOptions)

	d.services = []service.Service{sweeper, d.route}
	return d, nil
}

// connectNats starts the embedded broker in developer mode and connects to
// the configured one.
func (d *directoryServer) connectNats() (lock.Publisher, error) {
	cfg := d.options.NatsConfig
	natsURL := cfg.NatsURL
	if d.options.Developer && cfg.LocalNats {
		s, err := nats.RunDefaultServer(cfg.LocalNatsDebug, cfg.LocalNatsTrace)
		if err != nil {
			return nil, err
		}
		d.localNats = s
		natsURL = s.ClientURL()
	}
	if natsURL == "" {
		return nil, fmt.Errorf("NatsURL is required")
	}
	var configs []nats.Config
	if d.options.Debug() {
		configs = append(configs, nats.ConfigEnableDebug)
	}
	bus, err := nats.NewNatsConn(natsURL, d.logger, configs...)
	if err != nil {
		return nil, err
	}
	d.bus = bus
	return bus, nil
}

// newVerifier chains every configured credential verifier.
func newVerifier(cfg models.AuthConfig) (auth.CredentialVerifier, error) {
	var chain auth.ChainVerifier
	if cfg.JWT.HMACSecret != "" || cfg.JWT.RSAPublicKeyFile != "" {
		v, err := auth.NewJWTVerifier(cfg.JWT)
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)
	}
	if len(cfg.StaticTokens) > 0 {
		chain = append(chain, auth.NewStaticTokenVerifier(cfg.StaticTokens))
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no credential verifier configured")
	}
	return chain, nil
}

func (d *directoryServer) start(ctx context.Context) error {
	for _, s := range d.services {
		log.Println(">> Starting", s.Name())
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", s.Name(), err)
		}
		log.Println("<< Started", s.Name())
	}
	return nil
}

// stop stops services in reverse start order, then closes the connections.
func (d *directoryServer) stop() {
	for i := len(d.services) - 1; i >= 0; i-- {
		s := d.services[i]
		log.Println(">> Stopping", s.Name())
		s.Stop()
		log.Println("<< Stopped", s.Name())
	}
	d.services = nil
	if d.bus != nil {
		d.bus.Close()
		d.bus = nil
	}
	if d.localNats != nil {
		d.localNats.Shutdown()
		d.localNats = nil
	}
	if d.db != nil {
		if sqlDB, err := d.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		d.db = nil
	}
}
