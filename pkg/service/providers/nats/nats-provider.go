package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spike-events/spike-directory/pkg/lock"
	"github.com/spike-events/spike-directory/pkg/service"
)

const (
	NATSMaxChans   = 100
	DefaultTimeout = 30 * time.Second
)

const (
	ConfigEnableDebug = Config(1)
)

type Config int

// NatsConn publishes and relays lock events over NATS.
type NatsConn struct {
	natsURL string
	debug   bool
	logger  service.Logger
	bus     *nats.Conn
}

func (s *NatsConn) connError(_ *nats.Conn, err error) {
	if err != nil {
		s.printDebug("nats: disconnected with error: %s", err)
	}
}

func (s *NatsConn) asyncError(_ *nats.Conn, _ *nats.Subscription, err error) {
	if err != nil {
		s.logger.Printf("nats: async error: %v", err)
	}
}

func (s *NatsConn) newNatsBus() (*nats.Conn, error) {
	opts := nats.GetDefaultOptions()
	opts.Url = s.natsURL
	opts.Name = "spike-directory"
	opts.AllowReconnect = true
	opts.MaxReconnect = -1
	opts.PingInterval = 5 * time.Second
	opts.MaxPingsOut = 3
	opts.Timeout = DefaultTimeout
	opts.DisconnectedErrCB = s.connError
	opts.AsyncErrorCB = s.asyncError
	opts.FlusherTimeout = 3 * time.Second
	return opts.Connect()
}

// NewNatsConn connects to natsURL.
func NewNatsConn(natsURL string, logger service.Logger, configs ...Config) (*NatsConn, error) {
	if logger == nil {
		logger = service.DefaultLogger("")
	}
	natsConn := &NatsConn{
		natsURL: natsURL,
		logger:  logger,
	}

	for _, config := range configs {
		switch config {
		case ConfigEnableDebug:
			natsConn.debug = true
		}
	}

	bus, err := natsConn.newNatsBus()
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", natsURL, err)
	}
	natsConn.bus = bus
	return natsConn, nil
}

// Close drains pending messages and closes the connection.
func (s *NatsConn) Close() {
	s.printDebug("nats: closing bus")
	defer s.printDebug("nats: closing bus done")
	if err := s.bus.Drain(); err != nil {
		s.bus.Close()
	}
}

func (s *NatsConn) printDebug(str string, params ...interface{}) {
	if s.debug {
		s.logger.Printf(str, params...)
	}
}

// Publish sends e on its subject.
func (s *NatsConn) Publish(_ context.Context, e lock.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.printDebug("nats: publishing %s on %s", e.Type, e.Subject())
	return s.bus.Publish(e.Subject(), payload)
}

// Subscribe delivers every lock event to hc until the returned function is
// called. Handlers run on one goroutine in arrival order.
func (s *NatsConn) Subscribe(hc func(e lock.Event)) (func(), error) {
	subject := lock.SubjectPrefix + ".>"
	msgs := make(chan *nats.Msg, NATSMaxChans)
	sub, err := s.bus.ChanSubscribe(subject, msgs)
	if err != nil {
		return nil, err
	}
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-quit:
				s.printDebug("nats: stopped relaying %s", subject)
				return
			case m := <-msgs:
				var e lock.Event
				if err := json.Unmarshal(m.Data, &e); err != nil {
					s.logger.Printf("nats: invalid lock event on %s: %v", m.Subject, err)
					continue
				}
				hc(e)
			}
		}
	}()
	s.printDebug("nats: subscribed on %s", subject)

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			s.printDebug("nats: unsubscribe %s: %v", subject, err)
		}
		close(quit)
		<-done
	}, nil
}
