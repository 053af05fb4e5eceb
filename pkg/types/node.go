package types

import "crypto/sha1"

// Address identifies a node or a sub-network in the overlay. Nodes are
// addressed by whatever string the transport understands (host:port for
// TCP and QUIC, an onion address when routed through Tor).
type Address string

func (a Address) String() string {
	return string(a)
}

// ID returns the SHA-1 digest of the address, used for distance metrics.
func (a Address) ID() []byte {
	sum := sha1.Sum([]byte(a))
	return sum[:]
}
