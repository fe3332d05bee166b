package tlv

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nerrad567/thingbridge/internal/envelope"
)

// Request is the parsed form of a Pub/Sub/Unsub request text.
type Request struct {
	Topic string
	QoS   envelope.QoS

	// QoSDefaulted is set when the QoS digit was missing or unparseable and
	// QoS fell back to AtMostOnce. Callers are expected to log it.
	QoSDefaulted bool

	// HasBody reports whether a {...} section was present.
	HasBody bool

	// Fields holds the key:value pairs from the brace section.
	Fields map[string]string
}

// Result is the outcome of DecodeRequest.
type Result struct {
	Frame        Frame
	Envelope     envelope.Envelope
	QoSDefaulted bool
}

// ParseRequestText parses "[topic]qos{k1:v1;k2:v2}".
//
// The topic is the text between the first '[' and the first ']'. The QoS is
// the single character right after ']'; when it is missing or not a
// supported level, QoS is AtMostOnce and QoSDefaulted is set. The brace
// section is optional here; DecodeRequest requires it for Pub frames.
func ParseRequestText(text string) (Request, error) {
	open := strings.IndexByte(text, '[')
	closing := strings.IndexByte(text, ']')
	if open < 0 || closing < 0 || closing < open {
		return Request{}, fmt.Errorf("%w: malformed topic brackets in %q", ErrDecodeFailure, text)
	}

	req := Request{
		Topic:  text[open+1 : closing],
		Fields: map[string]string{},
	}

	rest := text[closing+1:]
	req.QoS, req.QoSDefaulted = envelope.AtMostOnce, true
	if len(rest) > 0 {
		if qos, err := envelope.ParseQoS(rest[0]); err == nil {
			req.QoS, req.QoSDefaulted = qos, false
		}
	}

	lb := strings.IndexByte(rest, '{')
	rb := strings.IndexByte(rest, '}')
	switch {
	case lb < 0 && rb < 0:
		return req, nil
	case lb < 0 || rb < 0 || rb < lb:
		return Request{}, fmt.Errorf("%w: malformed braces in %q", ErrDecodeFailure, text)
	}

	req.HasBody = true
	for _, pair := range strings.Split(rest[lb+1:rb], ";") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, ":")
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		req.Fields[k] = strings.TrimSpace(v)
	}

	return req, nil
}

// Payload serialises the request fields as a JSON object.
func (r Request) Payload() ([]byte, error) {
	b, err := json.Marshal(r.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshalling request fields: %w", err)
	}
	return b, nil
}

// FormatRequestText renders "[topic]qos{body}".
//
// body is wrapped in braces unless it already is.
func FormatRequestText(topic string, qos envelope.QoS, body string) string {
	if !(strings.HasPrefix(body, "{") && strings.HasSuffix(body, "}")) {
		body = "{" + body + "}"
	}
	return fmt.Sprintf("[%s]%d{%s}", topic, qos, body[1:len(body)-1])
}

// PayloadFitsText reports whether payload survives the brace text form
// unchanged. The text form has no escaping: keys or values containing '{',
// '}', ';' or ':' (nested objects among them) are cut short or split apart
// when the device parses them.
func PayloadFitsText(payload []byte) bool {
	_, lossless := payloadText(payload)
	return lossless
}

// payloadText renders a publish payload in the brace text form.
//
// JSON objects are flattened to sorted "key:value" pairs so that a payload
// produced by DecodeRequest survives a round trip. Anything else is sent as
// text. lossless is false when the device will not see the same fields.
func payloadText(payload []byte) (text string, lossless bool) {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		inner := strings.TrimSuffix(strings.TrimPrefix(string(payload), "{"), "}")
		return string(payload), !strings.ContainsAny(inner, "{}")
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lossless = true
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var v string
		switch val := obj[k].(type) {
		case string:
			v = val
		case nil:
			v = ""
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return string(payload), false
			}
			v = string(b)
		}
		if strings.ContainsAny(k, textDelimiters) || strings.ContainsAny(v, textDelimiters) {
			lossless = false
		}
		parts = append(parts, k+":"+v)
	}
	return "{" + strings.Join(parts, ";") + "}", lossless
}

// textDelimiters separate fields in the brace text form.
const textDelimiters = "{};:"

// EncodeRequest encodes an envelope as a request frame.
//
// Publish envelopes become Pub frames; subscribe and unsubscribe envelopes
// become Sub and Unsub frames with an empty body. Publish payloads are
// flattened to text; see PayloadFitsText. Topics containing '[' or
// ']' cannot be delimited in the request text and are rejected with
// envelope.ErrInvalidArgument.
func EncodeRequest(e envelope.Envelope) ([]byte, error) {
	if strings.ContainsAny(e.Topic(), "[]") {
		return nil, fmt.Errorf("%w: topic %q contains a bracket", envelope.ErrInvalidArgument, e.Topic())
	}
	switch e.Kind() {
	case envelope.KindPublish:
		body, _ := payloadText(e.Payload())
		text := FormatRequestText(e.Topic(), e.QoS(), body)
		return Encode(TypePub, []byte(text))
	case envelope.KindSubscribe:
		return Encode(TypeSub, []byte(FormatRequestText(e.Topic(), e.QoS(), "")))
	case envelope.KindUnsubscribe:
		return Encode(TypeUnsub, []byte(FormatRequestText(e.Topic(), e.QoS(), "")))
	default:
		return nil, fmt.Errorf("%w: envelope has no kind", ErrInvalidType)
	}
}

// EncodeAck builds the acknowledgement frame for a completed request.
//
// PubAck carries the publish payload, SubAck and UnsubAck carry the topic.
func EncodeAck(e envelope.Envelope) ([]byte, error) {
	switch e.Kind() {
	case envelope.KindPublish:
		return Encode(TypePubAck, e.Payload())
	case envelope.KindSubscribe:
		return Encode(TypeSubAck, []byte(e.Topic()))
	case envelope.KindUnsubscribe:
		return Encode(TypeUnsubAck, []byte(e.Topic()))
	default:
		return nil, fmt.Errorf("%w: envelope has no kind", ErrInvalidType)
	}
}

// DecodeRequest decodes a frame and, for request types, the envelope it
// carries.
//
// Acknowledgement frames return ErrNoRequest with the decoded Frame set.
// Malformed frames return ErrDecodeFailure.
func DecodeRequest(data []byte) (Result, error) {
	frame, err := Decode(data)
	if err != nil {
		return Result{Frame: frame}, err
	}
	res := Result{Frame: frame}

	if !frame.Type.IsRequest() {
		return res, fmt.Errorf("%w: %s", ErrNoRequest, frame.Type)
	}
	if len(frame.Value) == 0 {
		return res, fmt.Errorf("%w: empty %s value", ErrDecodeFailure, frame.Type)
	}

	req, err := ParseRequestText(string(frame.Value))
	if err != nil {
		return res, err
	}
	res.QoSDefaulted = req.QoSDefaulted

	var e envelope.Envelope
	switch frame.Type {
	case TypePub:
		if !req.HasBody {
			return res, fmt.Errorf("%w: pub frame without body", ErrDecodeFailure)
		}
		payload, perr := req.Payload()
		if perr != nil {
			return res, fmt.Errorf("%w: %w", ErrDecodeFailure, perr)
		}
		e, err = envelope.NewPublish(req.Topic, req.QoS, payload)
	case TypeSub:
		e, err = envelope.NewSubscribe(req.Topic, req.QoS)
	case TypeUnsub:
		e, err = envelope.NewUnsubscribe(req.Topic)
	}
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}

	res.Envelope = e
	return res, nil
}
