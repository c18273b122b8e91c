package fibaro

import (
	"fmt"
	"strings"
)

// Action is a device command. Commands are an enum rather than raw strings
// so unknown actions are rejected at the edge, not at the hub.
type Action int

const (
	// ActionOn switches a device on.
	ActionOn Action = iota

	// ActionOff switches a device off.
	ActionOff

	// ActionToggle flips the device based on its tracked state.
	ActionToggle

	// ActionSetLevel sets a dimmer's brightness.
	ActionSetLevel
)

// String returns the action's wire-independent name.
func (a Action) String() string {
	switch a {
	case ActionOn:
		return "on"
	case ActionOff:
		return "off"
	case ActionToggle:
		return "toggle"
	case ActionSetLevel:
		return "setlevel"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction maps an external action name to an Action.
func ParseAction(name string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "on", "turnon":
		return ActionOn, nil
	case "off", "turnoff":
		return ActionOff, nil
	case "toggle":
		return ActionToggle, nil
	case "setlevel", "set_level", "level", "dim":
		return ActionSetLevel, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
}
