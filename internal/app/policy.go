package app

import (
	"fmt"

	"github.com/dkeye/meetsfu/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send queue is full.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction {
	return KickMember
}

// LenientPolicy only drops the event.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return DropFrame
}

// PolicyByName maps the backpressure_policy setting: "kick" (default) or
// "drop".
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "kick":
		return SimplePolicy{}, nil
	case "drop":
		return LenientPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown backpressure policy %q", name)
}
