package rtc

import (
	"errors"
	"strings"

	"github.com/dkeye/meetsfu/internal/core"
	"github.com/pion/webrtc/v4"
)

var errNoFingerprint = errors.New("dtlsParameters.fingerprints is empty")

func iceParamsToCore(p webrtc.ICEParameters) core.IceParameters {
	return core.IceParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		IceLite:          p.ICELite,
	}
}

func iceParamsFromCore(p *core.IceParameters) webrtc.ICEParameters {
	if p == nil {
		return webrtc.ICEParameters{}
	}
	return webrtc.ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.IceLite,
	}
}

func candidatesToCore(cands []webrtc.ICECandidate) []core.IceCandidate {
	out := make([]core.IceCandidate, 0, len(cands))
	for _, c := range cands {
		out = append(out, core.IceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Address:    c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
			TCPType:    c.TCPType,
		})
	}
	return out
}

func dtlsParamsToCore(p webrtc.DTLSParameters) core.DtlsParameters {
	fps := make([]core.DtlsFingerprint, 0, len(p.Fingerprints))
	for _, f := range p.Fingerprints {
		fps = append(fps, core.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	// The server side lets the client pick its DTLS role.
	return core.DtlsParameters{Role: "auto", Fingerprints: fps}
}

func dtlsParamsFromCore(p core.DtlsParameters) (webrtc.DTLSParameters, error) {
	if len(p.Fingerprints) == 0 {
		return webrtc.DTLSParameters{}, errNoFingerprint
	}
	out := webrtc.DTLSParameters{Role: dtlsRole(p.Role)}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{
			Algorithm: strings.ToLower(f.Algorithm),
			Value:     f.Value,
		})
	}
	return out, nil
}

func dtlsRole(role string) webrtc.DTLSRole {
	switch strings.ToLower(role) {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	default:
		return webrtc.DTLSRoleAuto
	}
}
