package rtc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dkeye/meetsfu/internal/core"
	"github.com/dkeye/meetsfu/internal/domain"
	"github.com/pion/webrtc/v4"
)

var videoFeedback = []core.RtcpFeedback{
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "goog-remb"},
}

// DefaultCodecs is the router codec set: opus, VP8 and baseline H264.
// Payload types follow what Chromium offers so most producers need no
// remapping.
func DefaultCodecs() []core.RtpCodecCapability {
	return []core.RtpCodecCapability{
		{
			Kind:                 domain.MediaKindAudio,
			MimeType:             webrtc.MimeTypeOpus,
			PreferredPayloadType: 111,
			ClockRate:            48000,
			Channels:             2,
			Parameters:           map[string]any{"minptime": 10, "useinbandfec": 1},
		},
		{
			Kind:                 domain.MediaKindVideo,
			MimeType:             webrtc.MimeTypeVP8,
			PreferredPayloadType: 96,
			ClockRate:            90000,
			RtcpFeedback:         videoFeedback,
		},
		{
			Kind:                 domain.MediaKindVideo,
			MimeType:             webrtc.MimeTypeH264,
			PreferredPayloadType: 102,
			ClockRate:            90000,
			Parameters: map[string]any{
				"level-asymmetry-allowed": 1,
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
			},
			RtcpFeedback: videoFeedback,
		},
	}
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	return webrtc.NewRTPCodecType(string(kind))
}

// fmtpLine renders codec parameters as a sorted a=fmtp value.
func fmtpLine(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+paramString(params[k]))
	}
	return strings.Join(parts, ";")
}

// paramString prints JSON numbers (float64) without a fraction.
func paramString(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
	case float32:
		if n == float32(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
	}
	return fmt.Sprint(v)
}

func toFeedback(fb []core.RtcpFeedback) []webrtc.RTCPFeedback {
	out := make([]webrtc.RTCPFeedback, 0, len(fb))
	for _, f := range fb {
		out = append(out, webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return out
}

func toCapability(c core.RtpCodecCapability) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		SDPFmtpLine:  fmtpLine(c.Parameters),
		RTCPFeedback: toFeedback(c.RtcpFeedback),
	}
}

func toCodecParameters(c core.RtpCodecCapability) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: toCapability(c),
		PayloadType:        webrtc.PayloadType(c.PreferredPayloadType),
	}
}

// producerCodecParameters maps a producer's codec onto the payload type the
// producer actually sends.
func producerCodecParameters(c core.RtpCodecParameters) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  fmtpLine(c.Parameters),
			RTCPFeedback: toFeedback(c.RtcpFeedback),
		},
		PayloadType: webrtc.PayloadType(c.PayloadType),
	}
}

func kindOfMime(mime string) domain.MediaKind {
	kind, _, _ := strings.Cut(strings.ToLower(mime), "/")
	return domain.MediaKind(kind)
}

// codecMatches reports whether a remote capability can carry media encoded
// with codec.
func codecMatches(codec core.RtpCodecParameters, remote core.RtpCodecCapability) bool {
	if !strings.EqualFold(codec.MimeType, remote.MimeType) {
		return false
	}
	if remote.Kind != "" && remote.Kind != kindOfMime(codec.MimeType) {
		return false
	}
	if codec.ClockRate != remote.ClockRate {
		return false
	}
	if codec.Channels != 0 && remote.Channels != 0 && codec.Channels != remote.Channels {
		return false
	}
	if strings.EqualFold(codec.MimeType, webrtc.MimeTypeH264) {
		return paramString(codec.Parameters["packetization-mode"]) == paramString(remote.Parameters["packetization-mode"])
	}
	return true
}

// routerCodec finds the router's own capability for mime.
func routerCodec(codecs []core.RtpCodecCapability, mime string) (core.RtpCodecCapability, bool) {
	for _, c := range codecs {
		if strings.EqualFold(c.MimeType, mime) {
			return c, true
		}
	}
	return core.RtpCodecCapability{}, false
}
