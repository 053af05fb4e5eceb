// Package server runs an overlay node as a sequential actor: every inbound
// envelope and client call is handled to completion on one goroutine.
package server

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/busybox42/synapse/internal/store"
	"github.com/busybox42/synapse/pkg/overlay"
	"github.com/busybox42/synapse/pkg/protocol"
	"github.com/busybox42/synapse/pkg/types"
)

// ErrStopped is returned for calls made after Stop.
var ErrStopped = errors.New("server stopped")

const defaultInboxSize = 256

type Config struct {
	Address   types.Address
	Transport overlay.Transport
	Policy    overlay.AdmissionPolicy
	MaxTTL    int
	Tags      *overlay.TagSet
	InboxSize int
	Logger    logrus.FieldLogger
}

type event struct {
	ctx   context.Context
	env   protocol.Envelope
	fn    func(*overlay.Node)
	reply chan error
}

type Server struct {
	node    *overlay.Node
	shard   *store.Shard
	inbox   chan event
	results chan overlay.Result
	done    chan struct{}
	log     logrus.FieldLogger

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}

	srv := &Server{
		shard:   store.NewShard(),
		inbox:   make(chan event, cfg.InboxSize),
		results: make(chan overlay.Result, cfg.InboxSize),
		done:    make(chan struct{}),
		log:     cfg.Logger.WithField("node", cfg.Address),
	}

	opts := []overlay.Option{
		overlay.WithIndex(srv.shard),
		overlay.WithLogger(cfg.Logger),
		overlay.WithMaxTTL(cfg.MaxTTL),
		overlay.WithResultHandler(srv.publish),
	}
	if cfg.Policy != nil {
		opts = append(opts, overlay.WithPolicy(cfg.Policy))
	}
	if cfg.Tags != nil {
		opts = append(opts, overlay.WithTagSet(cfg.Tags))
	}
	srv.node = overlay.NewNode(cfg.Address, cfg.Transport, opts...)
	return srv
}

func (s *Server) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop ends the inbox loop. Events still queued are dropped.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Server) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.inbox:
			s.handle(ev)
		}
	}
}

func (s *Server) handle(ev event) {
	// A caller that gave up while the event was queued has already been
	// told it failed; running it now would act on a dead context.
	if err := ev.ctx.Err(); err != nil {
		if ev.reply != nil {
			ev.reply <- err
		}
		return
	}

	var err error
	if ev.fn != nil {
		ev.fn(s.node)
	} else {
		err = s.node.Dispatch(ev.ctx, ev.env)
	}

	if ev.reply != nil {
		ev.reply <- err
		return
	}
	if err != nil {
		s.log.WithField("kind", ev.env.Kind).Warnf("Handling inbound envelope: %v", err)
	}
}

func (s *Server) publish(r overlay.Result) {
	select {
	case s.results <- r:
	default:
		s.log.WithField("tag", r.Tag).Warn("Result buffer full, dropping result")
	}
}

// Results streams every GET/PUT resolution.
func (s *Server) Results() <-chan overlay.Result {
	return s.results
}

// Deliver queues an inbound envelope without waiting for it to be handled.
// It is the entry point transports hand received envelopes to.
func (s *Server) Deliver(env protocol.Envelope) {
	select {
	case s.inbox <- event{ctx: context.Background(), env: env}:
	case <-s.done:
	}
}

func (s *Server) call(ctx context.Context, ev event) error {
	ev.ctx = ctx
	ev.reply = make(chan error, 1)

	select {
	case s.inbox <- ev:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ev.reply:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitOperation injects a client GET or PUT and waits until this node
// has finished its part of the flood. The error wraps
// overlay.ErrForwardFailed when a neighbor could not be reached.
func (s *Server) SubmitOperation(ctx context.Context, op protocol.Op, key string, value *string, destination types.Address, budget int) error {
	msg := protocol.NewOperation(op, key, value, destination, s.node.Address(), budget)
	return s.call(ctx, event{env: protocol.Wrap(msg)})
}

// ReceiveInvite offers this node a neighbor network and reports whether
// the policy admitted it.
func (s *Server) ReceiveInvite(ctx context.Context, network, peer types.Address) (bool, error) {
	return s.admit(ctx, func(n *overlay.Node) bool { return n.HandleInvite(network, peer) })
}

// ReceiveJoin is ReceiveInvite without the invite-stage policy check.
func (s *Server) ReceiveJoin(ctx context.Context, network, peer types.Address) (bool, error) {
	return s.admit(ctx, func(n *overlay.Node) bool { return n.HandleJoin(network, peer) })
}

func (s *Server) admit(ctx context.Context, fn func(*overlay.Node) bool) (bool, error) {
	admitted := make(chan bool, 1)
	if err := s.Do(ctx, func(n *overlay.Node) { admitted <- fn(n) }); err != nil {
		return false, err
	}
	return <-admitted, nil
}

// Do runs fn on the actor goroutine, serialized with message handling.
func (s *Server) Do(ctx context.Context, fn func(*overlay.Node)) error {
	return s.call(ctx, event{fn: fn})
}

func (s *Server) Address() types.Address {
	return s.node.Address()
}

func (s *Server) Neighbors(ctx context.Context) ([]types.Address, error) {
	out := make(chan []types.Address, 1)
	if err := s.Do(ctx, func(n *overlay.Node) { out <- n.Neighbors() }); err != nil {
		return nil, err
	}
	return <-out, nil
}

// Shard returns a copy of the responsibility index.
func (s *Server) Shard(ctx context.Context) (map[types.Address]map[string]string, error) {
	out := make(chan map[types.Address]map[string]string, 1)
	if err := s.Do(ctx, func(*overlay.Node) { out <- s.shard.Snapshot() }); err != nil {
		return nil, err
	}
	return <-out, nil
}
