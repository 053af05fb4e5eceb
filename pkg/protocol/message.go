package protocol

import (
	"fmt"

	"github.com/busybox42/synapse/pkg/types"
	"github.com/google/uuid"
)

// Kind identifies the protocol phase of an envelope.
type Kind uint8

const (
	KindOperation Kind = iota
	KindFind
	KindFound
	KindInvite
	KindJoin
)

func (k Kind) String() string {
	switch k {
	case KindOperation:
		return "OPERATION"
	case KindFind:
		return "FIND"
	case KindFound:
		return "FOUND"
	case KindInvite:
		return "INVITE"
	case KindJoin:
		return "JOIN"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// IsMembership reports whether the kind carries a Membership payload
// rather than a Message.
func (k Kind) IsMembership() bool {
	return k == KindInvite || k == KindJoin
}

// Op is the client intent a request resolves to.
type Op uint8

const (
	OpGet Op = iota
	OpPut
)

func (o Op) String() string {
	switch o {
	case OpGet:
		return "GET"
	case OpPut:
		return "PUT"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// ParseOp maps a textual op code onto an Op.
func ParseOp(s string) (Op, error) {
	switch s {
	case "GET", "get":
		return OpGet, nil
	case "PUT", "put":
		return OpPut, nil
	}
	return 0, fmt.Errorf("unknown op %q", s)
}

// Tag binds together every message derived from one logical request.
type Tag string

// NewTag returns a fresh random tag.
func NewTag() Tag {
	return Tag(uuid.New().String())
}

// Message is the unit of protocol exchange. It is passed by value and
// never modified after construction; forwarding builds a new Message.
type Message struct {
	Kind        Kind          `cbor:"kind"`
	Op          Op            `cbor:"op"`
	TTL         int           `cbor:"ttl"`
	Budget      int           `cbor:"budget"`
	Tag         Tag           `cbor:"tag"`
	Key         string        `cbor:"key"`
	Value       *string       `cbor:"value,omitempty"`
	Destination types.Address `cbor:"dst"`
	Origin      types.Address `cbor:"src"`
}

// NewOperation builds a client-originated request. A nil value means the
// request carries no payload.
func NewOperation(op Op, key string, value *string, destination, origin types.Address, budget int) Message {
	return Message{
		Kind:        KindOperation,
		Op:          op,
		Budget:      budget,
		Key:         key,
		Value:       value,
		Destination: destination,
		Origin:      origin,
	}
}

// StartFind turns an operation into the first FIND of a new causal chain.
func (m Message) StartFind(tag Tag, ttl int, self types.Address) Message {
	return Message{
		Kind:        KindFind,
		Op:          m.Op,
		TTL:         ttl,
		Budget:      m.Budget,
		Tag:         tag,
		Key:         m.Key,
		Value:       copyValue(m.Value),
		Destination: m.Destination,
		Origin:      self,
	}
}

// Forward derives the next-hop FIND: one hop fewer, the given budget share.
func (m Message) Forward(budget int, self types.Address) Message {
	return Message{
		Kind:        KindFind,
		Op:          m.Op,
		TTL:         m.TTL - 1,
		Budget:      budget,
		Tag:         m.Tag,
		Key:         m.Key,
		Value:       copyValue(m.Value),
		Destination: m.Destination,
		Origin:      self,
	}
}

// Resolve derives a FOUND for this request as answered by holder.
func (m Message) Resolve(holder types.Address, value *string) Message {
	return Message{
		Kind:        KindFound,
		Op:          m.Op,
		TTL:         m.TTL,
		Budget:      m.Budget,
		Tag:         m.Tag,
		Key:         m.Key,
		Value:       copyValue(value),
		Destination: m.Destination,
		Origin:      holder,
	}
}

// ValueOr returns the payload or def when absent.
func (m Message) ValueOr(def string) string {
	if m.Value == nil {
		return def
	}
	return *m.Value
}

func (m Message) String() string {
	return fmt.Sprintf("%s/%s tag=%s key=%q ttl=%d budget=%d %s->%s",
		m.Kind, m.Op, m.Tag, m.Key, m.TTL, m.Budget, m.Origin, m.Destination)
}

func copyValue(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

// StringValue is a convenience for building optional values.
func StringValue(s string) *string {
	return &s
}

// Membership is an INVITE or JOIN offer for a shared sub-network.
type Membership struct {
	Network types.Address `cbor:"network"`
	Peer    types.Address `cbor:"peer"`
}

// Envelope is the tagged variant every inbound event arrives in. Exactly
// one of Message and Membership is set, selected by Kind.
type Envelope struct {
	Kind       Kind        `cbor:"kind"`
	Message    *Message    `cbor:"msg,omitempty"`
	Membership *Membership `cbor:"member,omitempty"`
}

// Wrap places a message in an envelope.
func Wrap(m Message) Envelope {
	return Envelope{Kind: m.Kind, Message: &m}
}

// Invite builds an INVITE envelope.
func Invite(network, peer types.Address) Envelope {
	return Envelope{Kind: KindInvite, Membership: &Membership{Network: network, Peer: peer}}
}

// Join builds a JOIN envelope.
func Join(network, peer types.Address) Envelope {
	return Envelope{Kind: KindJoin, Membership: &Membership{Network: network, Peer: peer}}
}

// Validate checks that the payload matches the kind.
func (e Envelope) Validate() error {
	switch {
	case e.Kind > KindJoin:
		return fmt.Errorf("unknown kind %s", e.Kind)
	case e.Kind.IsMembership() && e.Membership == nil:
		return fmt.Errorf("%s envelope without membership payload", e.Kind)
	case !e.Kind.IsMembership() && e.Message == nil:
		return fmt.Errorf("%s envelope without message payload", e.Kind)
	case !e.Kind.IsMembership() && e.Message.Kind != e.Kind:
		return fmt.Errorf("envelope kind %s does not match message kind %s", e.Kind, e.Message.Kind)
	}
	return nil
}
