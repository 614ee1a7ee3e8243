package instr

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// PushdownLevel configures how much of an instruction sequence the compiler
// may lower natively.
type PushdownLevel string

const (
	// PushdownDisabled lowers nothing; every instruction stays residual.
	PushdownDisabled PushdownLevel = "disabled"
	// PushdownFull lowers as long a prefix as the server version allows.
	PushdownFull PushdownLevel = "full"
)

// ParsePushdownLevel maps a configuration string to a level. Anything other
// than "full" is treated as disabled, so future or misspelled levels degrade
// conservatively instead of over-promising pushdown.
func ParsePushdownLevel(s string) PushdownLevel {
	if strings.EqualFold(strings.TrimSpace(s), string(PushdownFull)) {
		return PushdownFull
	}
	return PushdownDisabled
}

// Capability describes the execution target: the server version gating
// which native operators may be emitted, and the configured pushdown level.
type Capability struct {
	// ServerVersion is the version of the live server, or nil when unknown.
	ServerVersion *semver.Version
	// Level is the configured pushdown level. Unknown values behave as
	// PushdownDisabled.
	Level PushdownLevel
}

// Enabled reports whether the capability permits any pushdown at all.
func (c Capability) Enabled() bool {
	return c.Level == PushdownFull
}

// Supports reports whether the server is at least the given version. An
// unknown server version is assumed to support everything: a wrong guess is
// recovered at run time by the evaluation engine's fallback scan, whereas
// refusing to compile would disable pushdown permanently.
func (c Capability) Supports(min *semver.Version) bool {
	if c.ServerVersion == nil {
		return true
	}
	return !c.ServerVersion.LessThan(min)
}
