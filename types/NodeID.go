package types

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/bits"
)

const IDBytes = 20
const IDBits = IDBytes * 8

// NodeID - Represents a 160-bit identifier in the overlay keyspace. Node ids and
// storage keys share this type so that XOR distance applies to both.
type NodeID [IDBytes]byte

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero - Reports whether every byte of the id is zero.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

func NodeIDFromBytes(b []byte) (NodeID, error) {
	if len(b) != IDBytes {
		return NodeID{}, fmt.Errorf("invalid NodeID length: got %d, want %d", len(b), IDBytes)
	}

	var id NodeID
	copy(id[:], b)
	return id, nil
}

// ParseNodeID - Parses a hex encoded NodeID.
func ParseNodeID(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, err
	}
	return NodeIDFromBytes(b)
}

// NewRandomID - Generates a random NodeID. Used once per node at startup.
func NewRandomID() NodeID {
	var id NodeID
	var randomData [32]byte
	_, _ = rand.Read(randomData[:])
	sum := sha1.Sum(randomData[:])
	copy(id[:], sum[:])
	return id
}

// HashKey - Maps an arbitrary string onto the keyspace via SHA-1.
func HashKey(k string) NodeID {
	return NodeID(sha1.Sum([]byte(k)))
}

// XOR - Returns the XOR distance between a and b.
func XOR(a, b NodeID) (o NodeID) {
	for i := 0; i < IDBytes; i++ {
		o[i] = a[i] ^ b[i]
	}
	return
}

// CompareDistance - Returns -1, 0 or 1 depending on whether a is closer to,
// equally distant from, or further from t than b.
func CompareDistance(a, b, t NodeID) int {
	da := XOR(a, t)
	db := XOR(b, t)
	for i := 0; i < IDBytes; i++ {
		if da[i] < db[i] {
			return -1
		}
		if da[i] > db[i] {
			return 1
		}
	}
	return 0
}

// CommonPrefixLen - Number of leading bits a and b share.
func CommonPrefixLen(a, b NodeID) int {
	d := XOR(a, b)
	leading := 0
	for i := 0; i < IDBytes; i++ {
		if d[i] == 0 {
			leading += 8
			continue
		}
		leading += bits.LeadingZeros8(d[i])
		break
	}
	return leading
}

// RandomIDWithPrefix - Returns a random id sharing exactly prefixLen leading bits with
// base. Bucket refresh uses this to pick a lookup target inside a given bucket.
func RandomIDWithPrefix(base NodeID, prefixLen int) NodeID {
	if prefixLen >= IDBits {
		return base
	}
	id := NewRandomID()
	full := prefixLen / 8
	copy(id[:full], base[:full])

	rem := prefixLen % 8
	mask := byte(0xFF) << (8 - rem)
	id[full] = (base[full] & mask) | (id[full] &^ mask)

	// flip the first differing bit so the prefix is exact.
	flip := byte(0x80) >> rem
	id[full] = (id[full] &^ flip) | (^base[full] & flip)
	return id
}
