package systemd

import "time"

// DefaultUnit is the unit name the packaged service file installs.
const DefaultUnit = "schoolbell.service"

// UnitStatus is the state of one systemd unit.
type UnitStatus struct {
	Name        string
	Active      string // active, inactive, failed, ...
	SubState    string // running, dead, ...
	LoadState   string // loaded, not-found, ...
	Description string
	// Since is when the unit entered its current active or inactive state.
	Since time.Time
}
