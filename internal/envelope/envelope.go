// Package envelope models MQTT-bound operations independently of the
// transport they arrive on.
//
// An Envelope is a publish, subscribe or unsubscribe request carrying a topic,
// a QoS level and (for publish only) a payload. Envelopes are immutable once
// built; use the constructors, never a struct literal.
//
//	e, err := envelope.NewPublish("proxy/test", envelope.AtMostOnce, []byte(`{"temp":"25.56"}`))
//	if err != nil {
//	    return err
//	}
package envelope

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidArgument is returned when a constructor is given an argument
// that cannot form a valid envelope.
var ErrInvalidArgument = errors.New("envelope: invalid argument")

// QoS is the delivery guarantee requested for an MQTT operation.
//
// Only the two levels used by the broker are modelled. The numeric values
// are the MQTT QoS levels and appear verbatim on the device wire format.
type QoS uint8

const (
	// AtMostOnce is fire-and-forget delivery (MQTT QoS 0).
	AtMostOnce QoS = 0

	// AtLeastOnce is acknowledged delivery that may duplicate (MQTT QoS 1).
	AtLeastOnce QoS = 1
)

// Valid reports whether q is a supported QoS level.
func (q QoS) Valid() bool {
	return q == AtMostOnce || q == AtLeastOnce
}

// String returns the QoS name.
func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at_most_once"
	case AtLeastOnce:
		return "at_least_once"
	default:
		return fmt.Sprintf("qos(%d)", uint8(q))
	}
}

// ParseQoS converts an ASCII digit into a QoS level.
func ParseQoS(digit byte) (QoS, error) {
	if digit < '0' || digit > '9' {
		return AtMostOnce, fmt.Errorf("%w: qos %q is not a digit", ErrInvalidArgument, digit)
	}
	q := QoS(digit - '0')
	if !q.Valid() {
		return AtMostOnce, fmt.Errorf("%w: qos %d out of range", ErrInvalidArgument, q)
	}
	return q, nil
}

// Kind identifies which MQTT operation an Envelope represents.
type Kind uint8

const (
	// KindPublish publishes a payload to a topic.
	KindPublish Kind = iota + 1

	// KindSubscribe subscribes to a topic.
	KindSubscribe

	// KindUnsubscribe removes a subscription.
	KindUnsubscribe
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPublish:
		return "publish"
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	default:
		return "unknown"
	}
}

// Envelope is a transport-agnostic MQTT operation.
//
// The zero value is not a valid envelope.
type Envelope struct {
	kind    Kind
	topic   string
	qos     QoS
	payload []byte
}

// NewPublish builds a publish envelope.
//
// The payload must be non-nil; an empty slice is a valid (empty) payload.
// The payload is copied so later changes by the caller are not visible.
func NewPublish(topic string, qos QoS, payload []byte) (Envelope, error) {
	if err := validate(topic, qos); err != nil {
		return Envelope{}, err
	}
	if strings.ContainsAny(topic, "+#") {
		return Envelope{}, fmt.Errorf("%w: publish topic %q contains a wildcard", ErrInvalidArgument, topic)
	}
	if payload == nil {
		return Envelope{}, fmt.Errorf("%w: publish requires a payload", ErrInvalidArgument)
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	return Envelope{kind: KindPublish, topic: topic, qos: qos, payload: p}, nil
}

// NewSubscribe builds a subscribe envelope.
func NewSubscribe(topic string, qos QoS) (Envelope, error) {
	if err := validate(topic, qos); err != nil {
		return Envelope{}, err
	}
	return Envelope{kind: KindSubscribe, topic: topic, qos: qos}, nil
}

// NewUnsubscribe builds an unsubscribe envelope. QoS is always AtMostOnce.
func NewUnsubscribe(topic string) (Envelope, error) {
	if err := validate(topic, AtMostOnce); err != nil {
		return Envelope{}, err
	}
	return Envelope{kind: KindUnsubscribe, topic: topic, qos: AtMostOnce}, nil
}

// validate checks the rules every MQTT topic name and filter share (MQTT
// 3.1.1 section 4.7): non-empty UTF-8 with no NUL character, and wildcards
// only as whole levels with '#' last.
func validate(topic string, qos QoS) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidArgument)
	}
	if !utf8.ValidString(topic) {
		return fmt.Errorf("%w: topic %q is not valid utf-8", ErrInvalidArgument, topic)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains a NUL character", ErrInvalidArgument)
	}
	levels := strings.Split(topic, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidArgument, topic)
		case level != "+" && level != "#" && strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: wildcard inside level %q of %q", ErrInvalidArgument, level, topic)
		}
	}
	if !qos.Valid() {
		return fmt.Errorf("%w: unsupported qos %d", ErrInvalidArgument, uint8(qos))
	}
	return nil
}

// Kind returns the operation kind.
func (e Envelope) Kind() Kind { return e.kind }

// Topic returns the MQTT topic.
func (e Envelope) Topic() string { return e.topic }

// QoS returns the requested QoS level.
func (e Envelope) QoS() QoS { return e.qos }

// Payload returns a copy of the publish payload, or nil for
// subscribe and unsubscribe envelopes.
func (e Envelope) Payload() []byte {
	if e.kind != KindPublish {
		return nil
	}
	p := make([]byte, len(e.payload))
	copy(p, e.payload)
	return p
}

// IsZero reports whether e is the zero Envelope.
func (e Envelope) IsZero() bool {
	return e.kind == 0
}

// String formats the envelope for logs. Payloads are summarised by size.
func (e Envelope) String() string {
	if e.kind == KindPublish {
		return fmt.Sprintf("%s %s qos=%d bytes=%d", e.kind, e.topic, e.qos, len(e.payload))
	}
	return fmt.Sprintf("%s %s qos=%d", e.kind, e.topic, e.qos)
}
