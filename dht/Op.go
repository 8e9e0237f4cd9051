package dht

// op type enum-like
const (
	OP_PING       = 1
	OP_DISCOVER   = 2
	OP_FIND_NODE  = 3
	OP_FIND_VALUE = 4
	OP_STORE      = 5
	OP_DELETE     = 6
)

func opName(op int) string {
	switch op {
	case OP_PING:
		return "PING"
	case OP_DISCOVER:
		return "DISCOVER"
	case OP_FIND_NODE:
		return "FIND_NODE"
	case OP_FIND_VALUE:
		return "FIND_VALUE"
	case OP_STORE:
		return "STORE"
	case OP_DELETE:
		return "DELETE"
	}
	return "UNKNOWN"
}
