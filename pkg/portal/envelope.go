package portal

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const routeField = "apiRoute"

// Envelope is the single request shape every backend operation uses: an
// opaque route name plus a flat parameter bag. The wire form is encoded once
// at construction, so an Envelope never changes after it is built.
type Envelope struct {
	route string
	body  []byte
}

// NewEnvelope builds an envelope for route with a copy of params
func NewEnvelope(route string, params map[string]interface{}) (*Envelope, error) {
	if route == "" {
		return nil, ErrEmptyRoute
	}
	if _, ok := params[routeField]; ok {
		return nil, ErrReservedParam
	}

	raw := []byte("{}")
	if len(params) > 0 {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode envelope params")
		}
	}

	body, err := sjson.SetBytes(raw, routeField, route)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode envelope route")
	}

	return &Envelope{route: route, body: body}, nil
}

// MustEnvelope is NewEnvelope that panics on error. Use it for literals.
func MustEnvelope(route string, params map[string]interface{}) *Envelope {
	env, err := NewEnvelope(route, params)
	if err != nil {
		panic(err)
	}
	return env
}

// ParseEnvelope decodes a wire-form envelope
func ParseEnvelope(data []byte) (*Envelope, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("envelope is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errors.New("envelope must be a JSON object")
	}

	route := root.Get(routeField)
	if route.Type != gjson.String || route.String() == "" {
		return nil, ErrEmptyRoute
	}

	params, err := decodeParams(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode envelope")
	}
	delete(params, routeField)

	return NewEnvelope(route.String(), params)
}

// decodeParams keeps numbers as json.Number so integers wider than a
// float64 mantissa survive a round trip
func decodeParams(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	params := make(map[string]interface{})
	if err := dec.Decode(&params); err != nil {
		return nil, err
	}
	return params, nil
}

// Route returns the operation name
func (e *Envelope) Route() string {
	return e.route
}

// Params returns a fresh copy of the parameter bag. Numbers come back as
// json.Number.
func (e *Envelope) Params() map[string]interface{} {
	params, err := decodeParams(e.body)
	if err != nil {
		params = make(map[string]interface{})
	}
	delete(params, routeField)
	return params
}

// With returns a new envelope with key set to value
func (e *Envelope) With(key string, value interface{}) (*Envelope, error) {
	params := e.Params()
	params[key] = value
	return NewEnvelope(e.route, params)
}

// Key is the serialized value of the envelope. Two envelopes with equal keys
// describe the same request.
func (e *Envelope) Key() string {
	if e == nil {
		return ""
	}
	return string(e.body)
}

// MarshalJSON implements json.Marshaler
func (e *Envelope) MarshalJSON() ([]byte, error) {
	if e == nil || e.route == "" {
		return nil, ErrEmptyRoute
	}
	out := make([]byte, len(e.body))
	copy(out, e.body)
	return out, nil
}

// Equal reports whether two envelopes serialize identically
func (e *Envelope) Equal(other *Envelope) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.Key() == other.Key()
}
