package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// defaultNatsOptions are the options of the developer mode broker.
var defaultNatsOptions = server.Options{
	Host:       "127.0.0.1",
	Port:       4222,
	MaxPayload: 100 * 1024 * 1024,
}

// RunDefaultServer starts an embedded broker on the default local port.
func RunDefaultServer(debug, trace bool) (*server.Server, error) {
	opts := defaultNatsOptions
	opts.Debug = debug
	opts.Trace = trace
	return RunServer(&opts)
}

// RunServer starts an embedded broker and waits until it accepts clients.
func RunServer(opts *server.Options) (*server.Server, error) {
	if opts == nil {
		o := defaultNatsOptions
		opts = &o
	}
	s, err := server.NewServer(opts)
	if err != nil {
		return nil, err
	}

	s.ConfigureLogger()

	// Run server in Go routine.
	go s.Start()

	// Wait for accept loop(s) to be started
	if !s.ReadyForConnections(10 * time.Second) {
		s.Shutdown()
		return nil, fmt.Errorf("nats: embedded server not ready on %s:%d", opts.Host, opts.Port)
	}
	return s, nil
}
