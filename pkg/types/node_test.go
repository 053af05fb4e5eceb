package types

import (
	"bytes"
	"testing"
)

func TestAddressID(t *testing.T) {
	a := Address("10.0.0.1:9000")
	b := Address("10.0.0.2:9000")

	// SHA-1 produces a 20-byte hash
	if len(a.ID()) != 20 {
		t.Errorf("Expected ID length of 20, got %d", len(a.ID()))
	}
	if !bytes.Equal(a.ID(), a.ID()) {
		t.Error("ID is not stable for the same address")
	}
	if bytes.Equal(a.ID(), b.ID()) {
		t.Error("Different addresses produced the same ID")
	}
	if a.String() != "10.0.0.1:9000" {
		t.Errorf("Unexpected string form %q", a.String())
	}
}
