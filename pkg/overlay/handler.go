package overlay

import (
	"context"
	"fmt"

	"github.com/busybox42/synapse/pkg/protocol"
)

// Dispatch routes an inbound envelope to the handler for its kind.
func (n *Node) Dispatch(ctx context.Context, env protocol.Envelope) error {
	if env.Kind > protocol.KindJoin {
		return fmt.Errorf("%w: %s", ErrUnknownKind, env.Kind)
	}
	if err := env.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch env.Kind {
	case protocol.KindOperation:
		return n.HandleOperation(ctx, *env.Message)
	case protocol.KindFind:
		return n.HandleFind(ctx, *env.Message)
	case protocol.KindFound:
		n.HandleFound(*env.Message)
		return nil
	case protocol.KindInvite:
		n.HandleInvite(env.Membership.Network, env.Membership.Peer)
		return nil
	case protocol.KindJoin:
		n.HandleJoin(env.Membership.Network, env.Membership.Peer)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, env.Kind)
	}
}
