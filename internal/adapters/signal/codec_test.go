package signal

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/meetsfu/internal/app/orch"
	"github.com/dkeye/meetsfu/internal/core"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

func TestCodecFor(t *testing.T) {
	cases := map[string]string{"": "json", "json": "json", "msgpack": "msgpack", "cbor": "json"}
	for proto, want := range cases {
		if got := codecFor(proto).Name(); got != want {
			t.Errorf("codecFor(%q) = %s, want %s", proto, got, want)
		}
	}
	if codecFor("msgpack").MessageType() != websocket.BinaryMessage {
		t.Error("msgpack must use binary frames")
	}
}

// Requests and replies share the envelope, so a client encoding its
// request with Encode must decode on the server side.
func TestCodecRequestEnvelope(t *testing.T) {
	for _, codec := range []Codec{jsonCodec{}, msgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			id := uint64(7)
			frame, err := codec.Encode(Outbound{Type: "consume", ID: &id, Data: orch.ConsumeRequest{
				TransportID: "t1",
				ProducerID:  "p1",
				RtpCapabilities: &core.RtpCapabilities{Codecs: []core.RtpCodecCapability{{
					Kind: "video", MimeType: "video/VP8", ClockRate: 90000,
				}}},
			}})
			if err != nil {
				t.Fatal(err)
			}
			in, err := codec.Decode(frame)
			if err != nil {
				t.Fatal(err)
			}
			if in.Type != "consume" || in.ID != 7 {
				t.Fatalf("envelope = %q/%d, want consume/7", in.Type, in.ID)
			}
			var req orch.ConsumeRequest
			if err := in.Bind(&req); err != nil {
				t.Fatal(err)
			}
			if req.TransportID != "t1" || req.ProducerID != "p1" || req.RtpCapabilities == nil || req.RtpCapabilities.Codecs[0].ClockRate != 90000 {
				t.Fatalf("decoded request = %+v", req)
			}
		})
	}
}

func TestMsgpackUsesJSONFieldNames(t *testing.T) {
	frame, err := msgpackCodec{}.Encode(Outbound{Type: "newPeer", Data: core.PeerDTO{PeerID: "p", UserID: "u", Username: "n"}})
	if err != nil {
		t.Fatal(err)
	}
	in, err := msgpackCodec{}.Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := in.Bind(&m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"peerId", "userId", "username"} {
		if _, ok := m[k]; !ok {
			t.Errorf("field %q missing from %v", k, m)
		}
	}
}

func TestDecodeWithoutData(t *testing.T) {
	in, err := jsonCodec{}.Decode([]byte(`{"type":"createRoom","id":1}`))
	if err != nil {
		t.Fatal(err)
	}
	var req orch.RoomRequest
	if err := in.Bind(&req); err != nil {
		t.Fatalf("Bind without data: %v", err)
	}
	if _, err := (jsonCodec{}).Decode([]byte(`{"type":`)); err == nil {
		t.Fatal("truncated frame decoded")
	}
}

func TestBindRejectsWrongShape(t *testing.T) {
	in, err := jsonCodec{}.Decode([]byte(`{"type":"joinRoom","id":1,"data":{"roomId":42}}`))
	if err != nil {
		t.Fatal(err)
	}
	h := bind(func(_ context.Context, _ core.SessionID, req orch.JoinRequest) (orch.JoinReply, error) {
		t.Fatal("handler called with undecodable payload")
		return orch.JoinReply{}, nil
	})
	if _, err := h(context.Background(), "s", nil, in); !errors.Is(err, errBadPayload) {
		t.Fatalf("err = %v, want errBadPayload", err)
	}
}

func TestDecodeRecoversIDFromBadEnvelope(t *testing.T) {
	packed, err := msgpack.Marshal(map[string]any{"type": "ping", "id": "9"})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name   string
		codec  Codec
		frame  []byte
		hasID  bool
		wantID uint64
	}{
		{"json string id", jsonCodec{}, []byte(`{"type":"ping","id":"7"}`), true, 7},
		{"json bad type", jsonCodec{}, []byte(`{"type":5,"id":3}`), true, 3},
		{"json negative id", jsonCodec{}, []byte(`{"type":"ping","id":-1}`), false, 0},
		{"json garbage", jsonCodec{}, []byte(`not json`), false, 0},
		{"msgpack string id", msgpackCodec{}, packed, true, 9},
		{"msgpack garbage", msgpackCodec{}, []byte{0xc1}, false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, err := tc.codec.Decode(tc.frame)
			if !errors.Is(err, errBadEnvelope) {
				t.Fatalf("Decode err = %v, want errBadEnvelope", err)
			}
			if in.HasID != tc.hasID || in.ID != tc.wantID {
				t.Fatalf("recovered id = %d/%v, want %d/%v", in.ID, in.HasID, tc.wantID, tc.hasID)
			}
		})
	}
}
