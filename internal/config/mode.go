package config

// Mode is the process-wide blockchain toggle. It is resolved once at startup
// from BLOCKCHAIN_MODE and never mutated afterwards; changing the mode
// requires a restart so that concurrent requests can never observe different
// modes for the same operation.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeEnabled  Mode = "enabled"
	ModeHybrid   Mode = "hybrid"
)

// ParseMode resolves the raw environment string into a Mode. The match is
// case-sensitive; anything unrecognised (including empty) falls back to
// disabled.
func ParseMode(s string) Mode {
	switch s {
	case "enabled":
		return ModeEnabled
	case "hybrid":
		return ModeHybrid
	default:
		return ModeDisabled
	}
}

func (m Mode) String() string { return string(m) }

// LedgerActive reports whether ledger writes are attempted at all.
func (m Mode) LedgerActive() bool {
	return m == ModeEnabled || m == ModeHybrid
}

// Capability holds the per-domain flags derived from the global mode.
// Database persistence always runs; the mode only controls whether the
// ledger path runs alongside it.
type Capability struct {
	Blockchain bool
	Database   bool
}

// Capabilities groups the capability flags for every domain that can mirror
// writes to the ledger. All flags are pure functions of the mode.
type Capabilities struct {
	Identity   Capability
	Consent    Capability
	Records    Capability
	Incentives Capability
}

// Capabilities derives the per-domain capability flags from the mode.
func (m Mode) Capabilities() Capabilities {
	c := Capability{Blockchain: m.LedgerActive(), Database: true}
	return Capabilities{
		Identity:   c,
		Consent:    c,
		Records:    c,
		Incentives: c,
	}
}
