package protocol

import (
	"testing"

	"github.com/busybox42/synapse/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestNewTag(t *testing.T) {
	a := NewTag()
	b := NewTag()

	require.NotEmpty(t, a)
	require.NotEqual(t, a, b, "tags must be unique per request")
}

func TestStartFindKeepsPayload(t *testing.T) {
	op := NewOperation(OpPut, "k", StringValue("v"), "10.0.0.2:9000", "client", 5)

	find := op.StartFind("t1", 10, "10.0.0.1:9000")

	require.Equal(t, KindFind, find.Kind)
	require.Equal(t, OpPut, find.Op)
	require.Equal(t, 10, find.TTL)
	require.Equal(t, 5, find.Budget)
	require.Equal(t, Tag("t1"), find.Tag)
	require.Equal(t, "v", find.ValueOr(""))
	require.Equal(t, types.Address("10.0.0.2:9000"), find.Destination)
	require.Equal(t, types.Address("10.0.0.1:9000"), find.Origin)
}

func TestForwardDerivesNewMessage(t *testing.T) {
	find := NewOperation(OpGet, "k", nil, "dst", "client", 8).StartFind("t1", 3, "a")

	next := find.Forward(2, "b")

	require.Equal(t, 2, next.TTL)
	require.Equal(t, 2, next.Budget)
	require.Equal(t, find.Tag, next.Tag)
	require.Equal(t, find.Key, next.Key)
	require.Equal(t, types.Address("b"), next.Origin)

	// the source message is untouched
	require.Equal(t, 3, find.TTL)
	require.Equal(t, types.Address("a"), find.Origin)
}

func TestResolveDoesNotAliasValue(t *testing.T) {
	v := "cached"
	find := NewOperation(OpGet, "k", nil, "dst", "client", 1).StartFind("t1", 4, "a")

	found := find.Resolve("holder", &v)
	v = "changed"

	require.Equal(t, KindFound, found.Kind)
	require.Equal(t, types.Address("holder"), found.Origin)
	require.Equal(t, "cached", found.ValueOr(""))
	require.Equal(t, 4, found.TTL)
}

func TestParseOp(t *testing.T) {
	tests := []struct {
		in      string
		want    Op
		wantErr bool
	}{
		{in: "GET", want: OpGet},
		{in: "put", want: OpPut},
		{in: "DELETE", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOp(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestKindString(t *testing.T) {
	require.Equal(t, "FIND", KindFind.String())
	require.Equal(t, "Kind(9)", Kind(9).String())
	require.True(t, KindJoin.IsMembership())
	require.False(t, KindFound.IsMembership())
}
