package overlay

import (
	"context"
	"errors"
	"fmt"

	"github.com/busybox42/synapse/internal/store"
	"github.com/busybox42/synapse/pkg/protocol"
	"github.com/busybox42/synapse/pkg/types"
	"github.com/sirupsen/logrus"
)

// Node is the routing state machine of one overlay participant.
//
// A Node is not safe for concurrent use. Its owner must hand it one event
// at a time; the duplicate-tag check relies on that.
type Node struct {
	self      types.Address
	maxTTL    int
	neighbors []types.Address
	members   map[types.Address][]types.Address
	tags      *TagSet
	index     ResponsibilityIndex
	policy    AdmissionPolicy
	selector  NextHopSelector
	transport Transport
	onResult  ResultFunc
	log       logrus.FieldLogger
}

type Option func(*Node)

// WithMaxTTL overrides DefaultMaxTTL for operations originated here.
func WithMaxTTL(ttl int) Option {
	return func(n *Node) {
		if ttl > 0 {
			n.maxTTL = ttl
		}
	}
}

func WithTagSet(tags *TagSet) Option {
	return func(n *Node) { n.tags = tags }
}

func WithIndex(index ResponsibilityIndex) Option {
	return func(n *Node) { n.index = index }
}

func WithPolicy(policy AdmissionPolicy) Option {
	return func(n *Node) { n.policy = policy }
}

func WithSelector(selector NextHopSelector) Option {
	return func(n *Node) { n.selector = selector }
}

// WithResultHandler registers a callback for every resolved GET or PUT.
func WithResultHandler(fn ResultFunc) Option {
	return func(n *Node) { n.onResult = fn }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(n *Node) { n.log = log }
}

func NewNode(self types.Address, transport Transport, opts ...Option) *Node {
	n := &Node{
		self:      self,
		maxTTL:    DefaultMaxTTL,
		members:   make(map[types.Address][]types.Address),
		tags:      NewTagSet(0, 0),
		index:     store.NewShard(),
		policy:    AcceptAll{},
		selector:  ClosestHop{},
		transport: transport,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.WithField("node", self)
	return n
}

func (n *Node) Address() types.Address {
	return n.self
}

// Neighbors returns a copy of the neighbor set in join order.
func (n *Node) Neighbors() []types.Address {
	out := make([]types.Address, len(n.neighbors))
	copy(out, n.neighbors)
	return out
}

// Members returns the hosts known to belong to a neighbor network.
func (n *Node) Members(network types.Address) []types.Address {
	out := make([]types.Address, len(n.members[network]))
	copy(out, n.members[network])
	return out
}

func (n *Node) Seen(tag protocol.Tag) bool {
	return n.tags.Seen(tag)
}

func (n *Node) Index() ResponsibilityIndex {
	return n.index
}

// HandleOperation starts a new flood for a client request. Any tag or TTL
// the caller supplied is replaced.
func (n *Node) HandleOperation(ctx context.Context, msg protocol.Message) error {
	find := msg.StartFind(protocol.NewTag(), n.maxTTL, n.self)
	n.log.WithFields(logrus.Fields{
		"tag": find.Tag,
		"key": find.Key,
		"op":  find.Op,
	}).Info("Received operation")
	return n.HandleFind(ctx, find)
}

// HandleFind processes one FIND probe. Expired and already-seen probes are
// dropped before any side effect. For every neighbor, the request is either
// answered from the responsibility index, forwarded, or dropped by policy.
// Send failures do not stop the loop; they are returned together, wrapped
// in ErrForwardFailed.
func (n *Node) HandleFind(ctx context.Context, msg protocol.Message) error {
	log := n.log.WithFields(logrus.Fields{"tag": msg.Tag, "key": msg.Key})
	if msg.TTL <= 0 {
		log.Debug("Dropping expired find")
		return nil
	}
	if n.tags.Seen(msg.Tag) {
		log.Debug("Dropping duplicate find")
		return nil
	}
	n.tags.MarkSeen(msg.Tag)

	neighbors := n.Neighbors()
	shares := DivideBudget(msg.Budget, neighbors)

	var errs []error
	for _, neighbor := range neighbors {
		if n.index.IsResponsible(neighbor, msg.Key) {
			n.HandleFound(msg.Resolve(neighbor, n.localValue(neighbor, msg)))
			continue
		}

		hop := n.nextHop(neighbor, msg.Key)
		req := AdmissionRequest{
			Kind:      AdmitForward,
			Network:   neighbor,
			Hop:       hop,
			Peer:      msg.Origin,
			Key:       msg.Key,
			Tag:       msg.Tag,
			Neighbors: len(neighbors),
		}
		if !n.policy.Decide(req) {
			log.WithField("neighbor", neighbor).Debug("Policy rejected forward")
			continue
		}

		if err := n.forward(ctx, hop, msg.Forward(shares[neighbor], n.self)); err != nil {
			log.WithFields(logrus.Fields{"neighbor": neighbor, "hop": hop}).Warnf("Forward failed: %v", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrForwardFailed, errors.Join(errs...))
	}
	return nil
}

// localValue is what a locally synthesized FOUND carries: the new value
// for a PUT, the cached copy for a GET.
func (n *Node) localValue(neighbor types.Address, msg protocol.Message) *string {
	if msg.Op == protocol.OpPut {
		return msg.Value
	}
	value, ok := n.index.ValueFor(neighbor, msg.Key)
	if !ok {
		return nil
	}
	return &value
}

// nextHop is the member host of neighbor a FIND for key is sent to, or the
// neighbor address itself when no member is known.
func (n *Node) nextHop(neighbor types.Address, key string) types.Address {
	if h, ok := n.selector.NextHop(key, n.members[neighbor]); ok {
		return h
	}
	return neighbor
}

// forward sends msg to hop. Failures are reported to the policy unless
// they come from the caller's context rather than the peer.
func (n *Node) forward(ctx context.Context, hop types.Address, msg protocol.Message) error {
	if n.transport == nil {
		return fmt.Errorf("send %s to %s: no transport configured", msg.Tag, hop)
	}

	n.log.WithFields(logrus.Fields{
		"tag":    msg.Tag,
		"hop":    hop,
		"ttl":    msg.TTL,
		"budget": msg.Budget,
	}).Debug("Forwarding find")

	if err := n.transport.Send(ctx, protocol.Wrap(msg), hop); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("send %s to %s: %w", msg.Tag, hop, err)
		}
		n.policy.Observe(Observation{
			Peer:    hop,
			Outcome: OutcomeSendFailed,
			Key:     msg.Key,
			Tag:     msg.Tag,
		})
		return fmt.Errorf("send %s to %s: %w", msg.Tag, hop, err)
	}
	return nil
}

// HandleFound processes an answer. The policy always observes it first.
// A GET reports the copy held by msg.Origin, or a miss. A PUT with a
// non-negative budget upserts the copy; a negative budget means do not
// store.
func (n *Node) HandleFound(msg protocol.Message) {
	n.policy.Observe(Observation{
		Peer:    msg.Origin,
		Outcome: OutcomeFound,
		Key:     msg.Key,
		Tag:     msg.Tag,
	})

	log := n.log.WithFields(logrus.Fields{
		"tag":    msg.Tag,
		"key":    msg.Key,
		"holder": msg.Origin,
	})

	switch msg.Op {
	case protocol.OpGet:
		value, ok := n.index.ValueFor(msg.Origin, msg.Key)
		if ok {
			log.Infof("Retrieved value: %s", value)
		} else {
			log.Info("Value not found")
		}
		n.report(Result{Tag: msg.Tag, Op: msg.Op, Key: msg.Key, Holder: msg.Origin, Value: value, Found: ok})

	case protocol.OpPut:
		if msg.Budget < 0 {
			log.Debug("Ignoring put with negative budget")
			return
		}
		value := msg.ValueOr("")
		n.index.Store(msg.Origin, msg.Key, value)
		log.Info("Stored value")
		n.report(Result{Tag: msg.Tag, Op: msg.Op, Key: msg.Key, Holder: msg.Origin, Value: value, Found: true})
	}
}

func (n *Node) report(r Result) {
	if n.onResult != nil {
		n.onResult(r)
	}
}

// HandleInvite accepts a membership offer if the policy agrees, then joins.
func (n *Node) HandleInvite(network, peer types.Address) bool {
	log := n.log.WithFields(logrus.Fields{"network": network, "peer": peer})
	log.Info("Received invite")
	if !n.policy.Decide(n.membershipRequest(AdmitInvite, network, peer)) {
		log.Info("Invite rejected")
		return false
	}
	return n.HandleJoin(network, peer)
}

// HandleJoin re-checks the policy, since it may depend on state that
// changed since the invite, and adds network to the neighbor set. Joining
// a network twice leaves a single entry.
func (n *Node) HandleJoin(network, peer types.Address) bool {
	log := n.log.WithFields(logrus.Fields{"network": network, "peer": peer})
	if !n.policy.Decide(n.membershipRequest(AdmitJoin, network, peer)) {
		log.Info("Join rejected")
		return false
	}

	if !contains(n.neighbors, network) {
		n.neighbors = append(n.neighbors, network)
	}
	if peer != "" && peer != network && !contains(n.members[network], peer) {
		n.members[network] = append(n.members[network], peer)
	}
	log.Info("Joined network")
	return true
}

func (n *Node) membershipRequest(kind RequestKind, network, peer types.Address) AdmissionRequest {
	return AdmissionRequest{
		Kind:      kind,
		Network:   network,
		Peer:      peer,
		Neighbors: len(n.neighbors),
	}
}

func contains(list []types.Address, addr types.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}
