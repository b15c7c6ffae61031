package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	jsonSubprotocol    = "json"
	msgpackSubprotocol = "msgpack"
)

var (
	errBadPayload  = errors.New("bad payload")
	errBadEnvelope = errors.New("bad envelope")
)

// Inbound is a decoded request envelope; Data is decoded lazily by Bind.
// When the envelope is malformed, Decode still fills ID and sets HasID if
// the id could be recovered, so the request can be answered.
type Inbound struct {
	Type  string
	ID    uint64
	HasID bool
	bind  func(v any) error
}

func (in Inbound) Bind(v any) error {
	if in.bind == nil {
		return nil
	}
	return in.bind(v)
}

// Outbound is a reply (ID set) or a server event (ID nil).
type Outbound struct {
	Type string  `json:"type"`
	ID   *uint64 `json:"id,omitempty"`
	Data any     `json:"data,omitempty"`
}

// Codec frames envelopes for one websocket subprotocol.
type Codec interface {
	Name() string
	MessageType() int
	Encode(m Outbound) ([]byte, error)
	Decode(frame []byte) (Inbound, error)
}

func codecFor(subprotocol string) Codec {
	if subprotocol == msgpackSubprotocol {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Name() string     { return jsonSubprotocol }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Encode(m Outbound) ([]byte, error) { return json.Marshal(m) }

func (jsonCodec) Decode(frame []byte) (Inbound, error) {
	var env struct {
		Type string          `json:"type"`
		ID   uint64          `json:"id"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		var loose map[string]any
		dec := json.NewDecoder(bytes.NewReader(frame))
		dec.UseNumber()
		if dec.Decode(&loose) != nil {
			return Inbound{}, fmt.Errorf("%w: %v", errBadEnvelope, err)
		}
		return looseInbound(loose), fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	in := Inbound{Type: env.Type, ID: env.ID, HasID: true}
	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		in.bind = func(v any) error { return json.Unmarshal(env.Data, v) }
	}
	return in, nil
}

// msgpackCodec reuses the json struct tags so both subprotocols carry
// identical field names.
type msgpackCodec struct{}

func (msgpackCodec) Name() string     { return msgpackSubprotocol }
func (msgpackCodec) MessageType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(m Outbound) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Decode(frame []byte) (Inbound, error) {
	var env struct {
		Type string             `json:"type"`
		ID   uint64             `json:"id"`
		Data msgpack.RawMessage `json:"data"`
	}
	if err := newMsgpackDecoder(frame).Decode(&env); err != nil {
		var loose map[string]any
		if newMsgpackDecoder(frame).Decode(&loose) != nil {
			return Inbound{}, fmt.Errorf("%w: %v", errBadEnvelope, err)
		}
		return looseInbound(loose), fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	in := Inbound{Type: env.Type, ID: env.ID, HasID: true}
	if len(env.Data) > 0 {
		in.bind = func(v any) error { return newMsgpackDecoder(env.Data).Decode(v) }
	}
	return in, nil
}

func newMsgpackDecoder(b []byte) *msgpack.Decoder {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec
}

// looseInbound salvages type and id from an envelope that failed strict
// decoding.
func looseInbound(m map[string]any) Inbound {
	in := Inbound{}
	in.Type, _ = m["type"].(string)
	in.ID, in.HasID = looseID(m["id"])
	return in
}

func looseID(v any) (uint64, bool) {
	switch id := v.(type) {
	case json.Number:
		n, err := strconv.ParseUint(id.String(), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseUint(id, 10, 64)
		return n, err == nil
	case float64:
		if id < 0 || id != float64(uint64(id)) {
			return 0, false
		}
		return uint64(id), true
	case int8, int16, int32, int64:
		n := toInt64(id)
		return uint64(n), n >= 0
	case uint8:
		return uint64(id), true
	case uint16:
		return uint64(id), true
	case uint32:
		return uint64(id), true
	case uint64:
		return id, true
	}
	return 0, false
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	}
	return 0
}
