package core

import (
	"fmt"
	"math/bits"
)

// LayoutTag identifies an audio channel layout. The low 16 bits of a
// standard tag carry its channel count.
type LayoutTag uint32

const (
	LayoutUseChannelDescriptions LayoutTag = 0
	LayoutUseChannelBitmap       LayoutTag = 1 << 16
	LayoutMono                   LayoutTag = 100<<16 | 1
	LayoutStereo                 LayoutTag = 101<<16 | 2
	LayoutMatrixStereo           LayoutTag = 103<<16 | 2
	LayoutSMPTEDTV               LayoutTag = 130<<16 | 8
	LayoutDiscreteInOrder        LayoutTag = 147 << 16
)

// ChannelCount is the count carried in the tag.
func (t LayoutTag) ChannelCount() int {
	return int(t & 0xFFFF)
}

// ChannelRole is the semantic position of one audio channel.
type ChannelRole uint32

const (
	RoleUnknown              ChannelRole = 0
	RoleLeft                 ChannelRole = 1
	RoleRight                ChannelRole = 2
	RoleCenter               ChannelRole = 3
	RoleLFEScreen            ChannelRole = 4
	RoleLeftSurround         ChannelRole = 5
	RoleRightSurround        ChannelRole = 6
	RoleLeftCenter           ChannelRole = 7
	RoleRightCenter          ChannelRole = 8
	RoleCenterSurround       ChannelRole = 9
	RoleLeftSurroundDirect   ChannelRole = 10
	RoleRightSurroundDirect  ChannelRole = 11
	RoleTopCenterSurround    ChannelRole = 12
	RoleVerticalHeightLeft   ChannelRole = 13
	RoleVerticalHeightCenter ChannelRole = 14
	RoleVerticalHeightRight  ChannelRole = 15
	RoleTopBackLeft          ChannelRole = 16
	RoleTopBackCenter        ChannelRole = 17
	RoleTopBackRight         ChannelRole = 18
	RoleRearSurroundLeft     ChannelRole = 33
	RoleRearSurroundRight    ChannelRole = 34
	RoleLeftWide             ChannelRole = 35
	RoleRightWide            ChannelRole = 36
	RoleLFE2                 ChannelRole = 37
	RoleLeftTotal            ChannelRole = 38
	RoleRightTotal           ChannelRole = 39
	RoleHearingImpaired      ChannelRole = 40
	RoleNarration            ChannelRole = 41
	RoleMono                 ChannelRole = 42
	RoleDialogCentricMix     ChannelRole = 43
	RoleCenterSurroundDirect ChannelRole = 44
)

var roleNames = map[ChannelRole]string{
	RoleLeft:                 "Left",
	RoleRight:                "Right",
	RoleCenter:               "Center",
	RoleLFEScreen:            "LFEScreen",
	RoleLeftSurround:         "LeftSurround",
	RoleRightSurround:        "RightSurround",
	RoleLeftCenter:           "LeftCenter",
	RoleRightCenter:          "RightCenter",
	RoleCenterSurround:       "CenterSurround",
	RoleLeftSurroundDirect:   "LeftSurroundDirect",
	RoleRightSurroundDirect:  "RightSurroundDirect",
	RoleTopCenterSurround:    "TopCenterSurround",
	RoleVerticalHeightLeft:   "VerticalHeightLeft",
	RoleVerticalHeightCenter: "VerticalHeightCenter",
	RoleVerticalHeightRight:  "VerticalHeightRight",
	RoleTopBackLeft:          "TopBackLeft",
	RoleTopBackCenter:        "TopBackCenter",
	RoleTopBackRight:         "TopBackRight",
	RoleRearSurroundLeft:     "RearSurroundLeft",
	RoleRearSurroundRight:    "RearSurroundRight",
	RoleLeftWide:             "LeftWide",
	RoleRightWide:            "RightWide",
	RoleLFE2:                 "LFE2",
	RoleLeftTotal:            "LeftTotal",
	RoleRightTotal:           "RightTotal",
	RoleHearingImpaired:      "HearingImpaired",
	RoleNarration:            "Narration",
	RoleMono:                 "Mono",
	RoleDialogCentricMix:     "DialogCentricMix",
	RoleCenterSurroundDirect: "CenterSurroundDirect",
}

func (r ChannelRole) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("ChannelRole(%d)", uint32(r))
}

var namedLayouts = map[LayoutTag][]ChannelRole{
	LayoutMono:         {RoleMono},
	LayoutStereo:       {RoleLeft, RoleRight},
	LayoutMatrixStereo: {RoleLeftTotal, RoleRightTotal},
	LayoutSMPTEDTV: {
		RoleLeft, RoleRight, RoleCenter, RoleLFEScreen,
		RoleLeftSurround, RoleRightSurround, RoleLeftTotal, RoleRightTotal,
	},
}

// ChannelLayout is the raw layout record of an audio sample description.
type ChannelLayout struct {
	Tag      LayoutTag
	Bitmap   uint32
	Labels   []uint32 // per-channel labels, used with LayoutUseChannelDescriptions
	Channels int      // channel count of the stream, 0 when unknown
}

// ChannelAssignment is the resolved role of one physical channel. Message is
// set, and Role is RoleUnknown, when the channel could not be resolved.
type ChannelAssignment struct {
	Role    ChannelRole
	Message string
}

// Supported reports whether the channel resolved to a known role.
func (a ChannelAssignment) Supported() bool {
	return a.Message == ""
}

func (a ChannelAssignment) String() string {
	if a.Supported() {
		return a.Role.String()
	}
	return "unsupported: " + a.Message
}

func unsupported(format string, args ...interface{}) ChannelAssignment {
	return ChannelAssignment{Message: fmt.Sprintf(format, args...)}
}

// ResolveChannelLayout maps a layout to one assignment per channel. It never
// fails: anything it cannot name becomes an unsupported assignment.
func ResolveChannelLayout(l ChannelLayout) []ChannelAssignment {
	switch l.Tag {
	case LayoutUseChannelDescriptions:
		out := make([]ChannelAssignment, len(l.Labels))
		for i, label := range l.Labels {
			role := ChannelRole(label)
			if _, ok := roleNames[role]; ok {
				out[i] = ChannelAssignment{Role: role}
			} else {
				out[i] = unsupported("channel label %d is not supported", label)
			}
		}
		return out

	case LayoutUseChannelBitmap:
		n := bits.OnesCount32(l.Bitmap)
		if n == 0 {
			n = l.Channels
		}
		out := make([]ChannelAssignment, n)
		for i := range out {
			out[i] = unsupported("channel bitmap layouts (bitmap 0x%x) are not supported", l.Bitmap)
		}
		return out
	}

	if roles, ok := namedLayouts[l.Tag]; ok {
		out := make([]ChannelAssignment, len(roles))
		for i, r := range roles {
			out[i] = ChannelAssignment{Role: r}
		}
		return out
	}

	n := l.Tag.ChannelCount()
	out := make([]ChannelAssignment, n)
	for i := range out {
		out[i] = unsupported("layout tag 0x%x with %d channels is not supported", uint32(l.Tag), n)
	}
	return out
}
