package wire

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/SharefulNetworks/shareful-gsls/types"
	"google.golang.org/protobuf/encoding/protowire"
)

// Codec defines the interface for encoding/decoding overlay messages.
type Codec interface {
	// Wrap encodes m into a frame payload.
	Wrap(m *Message) ([]byte, error)

	// Unwrap decodes a frame payload.
	Unwrap(b []byte) (*Message, error)
}

// NewCodec - Returns the protobuf codec when useProtobuf is set, otherwise the JSON
// codec. Both ends of a connection must agree.
func NewCodec(useProtobuf bool) Codec {
	if useProtobuf {
		return ProtobufCodec{}
	}
	return JSONCodec{}
}

var ErrDecode = errors.New("wire: decode")

// ---------------- JSON codec ----------------

type JSONCodec struct{}

type jsonPeer struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

type jsonMessage struct {
	Op           int        `json:"op"`
	ReqID        uint64     `json:"req_id"`
	IsResponse   bool       `json:"is_response,omitempty"`
	FromID       string     `json:"from_id"`
	FromAddr     string     `json:"from_addr,omitempty"`
	Key          string     `json:"key,omitempty"`
	Value        []byte     `json:"value,omitempty"`
	TTLms        int64      `json:"ttl_ms,omitempty"`
	Peers        []jsonPeer `json:"peers,omitempty"`
	OK           bool       `json:"ok,omitempty"`
	Err          string     `json:"err,omitempty"`
	ObservedAddr string     `json:"observed_addr,omitempty"`
}

func (JSONCodec) Wrap(m *Message) ([]byte, error) {
	env := jsonMessage{
		Op:           m.Op,
		ReqID:        m.ReqID,
		IsResponse:   m.IsResponse,
		FromID:       m.FromID.String(),
		FromAddr:     m.FromAddr,
		Value:        m.Value,
		TTLms:        m.TTLms,
		OK:           m.OK,
		Err:          m.Err,
		ObservedAddr: m.ObservedAddr,
	}
	if !m.Key.IsZero() {
		env.Key = m.Key.String()
	}
	for _, p := range m.Peers {
		env.Peers = append(env.Peers, jsonPeer{ID: p.ID.String(), Addr: p.Addr})
	}
	return json.Marshal(&env)
}

func (JSONCodec) Unwrap(b []byte) (*Message, error) {
	var env jsonMessage
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	m := &Message{
		Op:           env.Op,
		ReqID:        env.ReqID,
		IsResponse:   env.IsResponse,
		FromAddr:     env.FromAddr,
		Value:        env.Value,
		TTLms:        env.TTLms,
		OK:           env.OK,
		Err:          env.Err,
		ObservedAddr: env.ObservedAddr,
	}
	var err error
	if m.FromID, err = parseHexID(env.FromID); err != nil {
		return nil, err
	}
	if m.Key, err = parseHexID(env.Key); err != nil {
		return nil, err
	}
	for _, p := range env.Peers {
		id, err := parseHexID(p.ID)
		if err != nil {
			return nil, err
		}
		m.Peers = append(m.Peers, PeerInfo{ID: id, Addr: p.Addr})
	}
	return m, nil
}

func parseHexID(s string) (types.NodeID, error) {
	if s == "" {
		return types.NodeID{}, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return types.NodeID{}, fmt.Errorf("%w: id: %v", ErrDecode, err)
	}
	id, err := types.NodeIDFromBytes(b)
	if err != nil {
		return types.NodeID{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return id, nil
}

// ---------------- Protobuf codec ----------------

// ProtobufCodec encodes messages in the protobuf wire format described by
// overlay.proto. Encoding is done directly with protowire, so no generated code is
// needed.
type ProtobufCodec struct{}

const (
	fieldOp           protowire.Number = 1
	fieldReqID        protowire.Number = 2
	fieldIsResponse   protowire.Number = 3
	fieldFromID       protowire.Number = 4
	fieldFromAddr     protowire.Number = 5
	fieldKey          protowire.Number = 6
	fieldValue        protowire.Number = 7
	fieldPeers        protowire.Number = 8
	fieldOK           protowire.Number = 9
	fieldErr          protowire.Number = 10
	fieldObservedAddr protowire.Number = 11
	fieldTTLms        protowire.Number = 12

	fieldPeerID   protowire.Number = 1
	fieldPeerAddr protowire.Number = 2
)

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendID(b []byte, num protowire.Number, id types.NodeID) []byte {
	if id.IsZero() {
		return b
	}
	return appendBytes(b, num, id[:])
}

func (ProtobufCodec) Wrap(m *Message) ([]byte, error) {
	b := make([]byte, 0, 64+len(m.Value)+len(m.Peers)*48)
	b = appendVarint(b, fieldOp, uint64(m.Op))
	b = appendVarint(b, fieldReqID, m.ReqID)
	b = appendVarint(b, fieldIsResponse, protowire.EncodeBool(m.IsResponse))
	b = appendID(b, fieldFromID, m.FromID)
	b = appendString(b, fieldFromAddr, m.FromAddr)
	b = appendID(b, fieldKey, m.Key)
	b = appendBytes(b, fieldValue, m.Value)
	for _, p := range m.Peers {
		var pb []byte
		pb = appendID(pb, fieldPeerID, p.ID)
		pb = appendString(pb, fieldPeerAddr, p.Addr)
		b = protowire.AppendTag(b, fieldPeers, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	b = appendVarint(b, fieldOK, protowire.EncodeBool(m.OK))
	b = appendString(b, fieldErr, m.Err)
	b = appendString(b, fieldObservedAddr, m.ObservedAddr)
	b = appendVarint(b, fieldTTLms, uint64(m.TTLms))
	return b, nil
}

// fieldReader walks the fields of one protobuf message.
type fieldReader struct {
	b   []byte
	err error
}

func (r *fieldReader) next() (protowire.Number, protowire.Type, bool) {
	if r.err != nil || len(r.b) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.fail(n)
		return 0, 0, false
	}
	r.b = r.b[n:]
	return num, typ, true
}

func (r *fieldReader) fail(n int) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
	}
}

func (r *fieldReader) expect(num protowire.Number, got, want protowire.Type) bool {
	if got == want {
		return true
	}
	if r.err == nil {
		r.err = fmt.Errorf("%w: field %d has wire type %d, want %d", ErrDecode, num, got, want)
	}
	return false
}

func (r *fieldReader) varint() uint64 {
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.fail(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) bytes() []byte {
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.fail(n)
		return nil
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) id() types.NodeID {
	raw := r.bytes()
	if r.err != nil {
		return types.NodeID{}
	}
	id, err := types.NodeIDFromBytes(raw)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return id
}

func (r *fieldReader) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, r.b)
	if n < 0 {
		r.fail(n)
		return
	}
	r.b = r.b[n:]
}

func (ProtobufCodec) Unwrap(b []byte) (*Message, error) {
	m := &Message{}
	r := &fieldReader{b: b}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case fieldOp, fieldReqID, fieldIsResponse, fieldOK, fieldTTLms:
			if !r.expect(num, typ, protowire.VarintType) {
				break
			}
			v := r.varint()
			switch num {
			case fieldOp:
				m.Op = int(v)
			case fieldReqID:
				m.ReqID = v
			case fieldIsResponse:
				m.IsResponse = protowire.DecodeBool(v)
			case fieldOK:
				m.OK = protowire.DecodeBool(v)
			case fieldTTLms:
				m.TTLms = int64(v)
			}
		case fieldFromID, fieldKey:
			if !r.expect(num, typ, protowire.BytesType) {
				break
			}
			if num == fieldFromID {
				m.FromID = r.id()
			} else {
				m.Key = r.id()
			}
		case fieldValue:
			if r.expect(num, typ, protowire.BytesType) {
				m.Value = append([]byte(nil), r.bytes()...)
			}
		case fieldFromAddr, fieldErr, fieldObservedAddr:
			if !r.expect(num, typ, protowire.BytesType) {
				break
			}
			s := string(r.bytes())
			switch num {
			case fieldFromAddr:
				m.FromAddr = s
			case fieldErr:
				m.Err = s
			case fieldObservedAddr:
				m.ObservedAddr = s
			}
		case fieldPeers:
			if !r.expect(num, typ, protowire.BytesType) {
				break
			}
			p, err := unwrapPeer(r.bytes())
			if err != nil && r.err == nil {
				r.err = err
			}
			m.Peers = append(m.Peers, p)
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

func unwrapPeer(b []byte) (PeerInfo, error) {
	var p PeerInfo
	r := &fieldReader{b: b}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch {
		case num == fieldPeerID && r.expect(num, typ, protowire.BytesType):
			p.ID = r.id()
		case num == fieldPeerAddr && r.expect(num, typ, protowire.BytesType):
			p.Addr = string(r.bytes())
		case r.err == nil:
			r.skip(num, typ)
		}
	}
	return p, r.err
}
