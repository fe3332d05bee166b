// Package linkstate tracks the connection state of each thing's two links
// (the local device link and the MQTT link) and fans state changes out to
// subscribers over channels.
//
// Producers never hold references to consumers. A consumer calls
// Notifier.Subscribe, ranges over the returned channel and calls the cancel
// function when done.
package linkstate

import (
	"fmt"
	"time"
)

// State is the connection state of a single link.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler so states render as names
// in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState parses a state name as produced by String.
func ParseState(name string) (State, error) {
	switch name {
	case "disconnected":
		return Disconnected, nil
	case "connecting":
		return Connecting, nil
	case "connected":
		return Connected, nil
	default:
		return Disconnected, fmt.Errorf("unknown link state %q", name)
	}
}

// Link identifies which of a thing's links a state belongs to.
type Link uint8

const (
	LinkDevice Link = iota + 1
	LinkMQTT
)

// String returns the link name.
func (l Link) String() string {
	switch l {
	case LinkDevice:
		return "device"
	case LinkMQTT:
		return "mqtt"
	default:
		return fmt.Sprintf("link(%d)", uint8(l))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Link) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Link) UnmarshalText(text []byte) error {
	parsed, err := ParseLink(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLink parses a link name as produced by String.
func ParseLink(name string) (Link, error) {
	switch name {
	case "device":
		return LinkDevice, nil
	case "mqtt":
		return LinkMQTT, nil
	default:
		return 0, fmt.Errorf("unknown link %q", name)
	}
}

// Change is a single state transition notification.
type Change struct {
	ThingID  string    `json:"thing_id"`
	Link     Link      `json:"link"`
	State    State     `json:"state"`
	Previous State     `json:"previous"`
	At       time.Time `json:"at"`
}
