package commons

import "github.com/SharefulNetworks/shareful-gsls/types"

// ValueValidator - Decides whether a value may be stored under key. Overlay nodes
// consult it before accepting a STORE from a peer, so the overlay itself stays
// ignorant of what the values mean.
type ValueValidator interface {
	Validate(key types.NodeID, value []byte) error
}

// ValueValidatorFunc - Adapts a plain function to ValueValidator.
type ValueValidatorFunc func(key types.NodeID, value []byte) error

func (f ValueValidatorFunc) Validate(key types.NodeID, value []byte) error {
	return f(key, value)
}
