// Package input abstracts the operator's controls into per-iteration snapshots.
package input

// Binding is a discrete action triggered when its key is released.
type Binding int

const (
	BindNone Binding = iota
	BindQuit
	BindRestartVehicle
	BindToggleAutopilot
	BindToggleRecording
	BindToggleReverse
	BindToggleConstantVelocity
	BindCycleLight
	BindSelectSensor
)

var bindingNames = map[Binding]string{
	BindNone:                   "none",
	BindQuit:                   "quit",
	BindRestartVehicle:         "restart-vehicle",
	BindToggleAutopilot:        "toggle-autopilot",
	BindToggleRecording:        "toggle-recording-images",
	BindToggleReverse:          "toggle-reverse",
	BindToggleConstantVelocity: "toggle-constant-velocity",
	BindCycleLight:             "cycle-light",
	BindSelectSensor:           "select-sensor",
}

func (b Binding) String() string {
	if n, ok := bindingNames[b]; ok {
		return n
	}
	return "unknown"
}

// Mods is the modifier state at the time a key was released.
type Mods uint8

const (
	ModCtrl Mods = 1 << iota
	ModShift
)

// Has reports whether m contains every modifier in o.
func (m Mods) Has(o Mods) bool {
	return m&o == o
}

// KeyEvent is one released key mapped to a binding.
// Sensor carries the 1-based index for BindSelectSensor.
type KeyEvent struct {
	Binding Binding
	Mods    Mods
	Sensor  int
}

// Snapshot is the control state for one loop iteration.
type Snapshot struct {
	Accelerate bool
	Brake      bool
	Left       bool
	Right      bool
	HandBrake  bool

	// Released holds the discrete events since the previous poll, oldest first.
	Released []KeyEvent
}

// Source produces one snapshot per loop iteration.
type Source interface {
	Poll() Snapshot
}

// Idle is a Source for headless runs: nothing is ever held or released.
type Idle struct{}

// Poll returns an empty snapshot.
func (Idle) Poll() Snapshot {
	return Snapshot{}
}
