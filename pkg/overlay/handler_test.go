package overlay

import (
	"context"
	"testing"

	"github.com/busybox42/synapse/pkg/protocol"
	"github.com/busybox42/synapse/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	node, transport := newTestNode(t)

	op := protocol.NewOperation(protocol.OpPut, "k", protocol.StringValue("v"), "dst", "client", 2)
	find := op.StartFind("t-find", 3, "origin")
	found := find.Resolve("P", protocol.StringValue("v"))

	tests := []struct {
		name    string
		env     protocol.Envelope
		wantErr error
	}{
		{name: "invite", env: protocol.Invite("net1", "B")},
		{name: "join", env: protocol.Join("net2", "C")},
		{name: "operation", env: protocol.Wrap(op)},
		{name: "find", env: protocol.Wrap(find)},
		{name: "found", env: protocol.Wrap(found)},
		{name: "missing payload", env: protocol.Envelope{Kind: protocol.KindFind}, wantErr: ErrMalformedEnvelope},
		{name: "missing membership", env: protocol.Envelope{Kind: protocol.KindJoin}, wantErr: ErrMalformedEnvelope},
		{name: "mismatched kind", env: protocol.Envelope{Kind: protocol.KindFound, Message: &find}, wantErr: ErrMalformedEnvelope},
		{name: "unknown kind", env: protocol.Envelope{Kind: protocol.Kind(77)}, wantErr: ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := node.Dispatch(ctx, tt.env)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.NotErrorIs(t, err, otherSentinel(tt.wantErr))
				return
			}
			require.NoError(t, err)
		})
	}

	require.Equal(t, []types.Address{"net1", "net2"}, node.Neighbors())
	// operation and find each flooded both neighbors through their member hosts
	require.Len(t, transport.sent, 4)
	require.True(t, node.Seen("t-find"))
	require.True(t, node.Index().IsResponsible("P", "k"))
}

func otherSentinel(err error) error {
	if err == ErrUnknownKind {
		return ErrMalformedEnvelope
	}
	return ErrUnknownKind
}
