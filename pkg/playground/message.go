package playground

import (
	"encoding/json"
	"fmt"
)

// Channel names on the dev server connection. Renderer traffic and server
// traffic never share a channel.
const (
	RendererChannel = "cosmos-renderer-message"
	ServerChannel   = "cosmos-server-message"
)

// Renderer request types (playground to renderer).
const (
	RequestPingRenderers   = "pingRenderers"
	RequestReloadRenderer  = "reloadRenderer"
	RequestSelectFixture   = "selectFixture"
	RequestUnselectFixture = "unselectFixture"
	RequestSetFixtureState = "setFixtureState"
)

// Renderer response types (renderer to playground).
const (
	ResponseRendererReady      = "rendererReady"
	ResponseFixtureListUpdate  = "fixtureListUpdate"
	ResponseFixtureStateChange = "fixtureStateChange"
)

// Server message types (dev server to playground).
const (
	ServerBuildStart = "buildStart"
	ServerBuildDone  = "buildDone"
	ServerBuildError = "buildError"
)

// RendererRequest is sent to renderers on RendererChannel. The payload is a
// pass-through envelope; nothing on the way to the renderer inspects it.
type RendererRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RendererResponse is received from renderers on RendererChannel. Raw holds
// the event exactly as received, and is what the message encodes to when
// set, so fields beyond type and payload survive forwarding.
type RendererResponse struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// ServerMessage is pushed by the dev server on ServerChannel. Its type space
// is independent of the renderer messages and it may carry no payload. Raw
// works as for RendererResponse.
type ServerMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

func (r RendererResponse) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	type plain RendererResponse
	return json.Marshal(plain(r))
}

func (s ServerMessage) MarshalJSON() ([]byte, error) {
	if len(s.Raw) > 0 {
		return s.Raw, nil
	}
	type plain ServerMessage
	return json.Marshal(plain(s))
}

// Request payloads

type PingRenderersPayload struct{}

type ReloadRendererPayload struct {
	RendererID string `json:"rendererId"`
}

type SelectFixturePayload struct {
	RendererID   string       `json:"rendererId"`
	FixtureID    FixtureID    `json:"fixtureId"`
	FixtureState FixtureState `json:"fixtureState"`
}

type UnselectFixturePayload struct {
	RendererID string `json:"rendererId"`
}

type SetFixtureStatePayload struct {
	RendererID   string       `json:"rendererId"`
	FixtureID    FixtureID    `json:"fixtureId"`
	FixtureState FixtureState `json:"fixtureState"`
}

// Response variants returned by RendererResponse.Decode

type RendererReady struct {
	RendererID string             `json:"rendererId"`
	Fixtures   FixtureNamesByPath `json:"fixtures"`
}

type FixtureListUpdate struct {
	RendererID string             `json:"rendererId"`
	Fixtures   FixtureNamesByPath `json:"fixtures"`
}

type FixtureStateChange struct {
	RendererID   string       `json:"rendererId"`
	FixtureID    FixtureID    `json:"fixtureId"`
	FixtureState FixtureState `json:"fixtureState"`
}

// Server variants returned by ServerMessage.Decode

type BuildStart struct{}

type BuildDone struct{}

type BuildError struct{}

// UnknownMessage is the decode result for a type tag this package does not
// know. Receivers should treat it as a no-op.
type UnknownMessage struct {
	Type    string
	Payload json.RawMessage
}

// NewRendererRequest builds a request envelope around payload.
func NewRendererRequest(msgType string, payload any) (RendererRequest, error) {
	if payload == nil {
		return RendererRequest{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return RendererRequest{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return RendererRequest{Type: msgType, Payload: data}, nil
}

// SelectFixtureRequest builds a selectFixture request.
func SelectFixtureRequest(rendererID string, fixtureID FixtureID, state FixtureState) (RendererRequest, error) {
	if state == nil {
		state = FixtureState{}
	}
	return NewRendererRequest(RequestSelectFixture, SelectFixturePayload{
		RendererID:   rendererID,
		FixtureID:    fixtureID,
		FixtureState: state,
	})
}

// UnselectFixtureRequest builds an unselectFixture request.
func UnselectFixtureRequest(rendererID string) (RendererRequest, error) {
	return NewRendererRequest(RequestUnselectFixture, UnselectFixturePayload{RendererID: rendererID})
}

// SetFixtureStateRequest builds a setFixtureState request.
func SetFixtureStateRequest(rendererID string, fixtureID FixtureID, state FixtureState) (RendererRequest, error) {
	if state == nil {
		state = FixtureState{}
	}
	return NewRendererRequest(RequestSetFixtureState, SetFixtureStatePayload{
		RendererID:   rendererID,
		FixtureID:    fixtureID,
		FixtureState: state,
	})
}

// ReloadRendererRequest builds a reloadRenderer request.
func ReloadRendererRequest(rendererID string) (RendererRequest, error) {
	return NewRendererRequest(RequestReloadRenderer, ReloadRendererPayload{RendererID: rendererID})
}

// PingRenderersRequest builds a pingRenderers request.
func PingRenderersRequest() RendererRequest {
	return RendererRequest{Type: RequestPingRenderers}
}

// Decode returns the typed variant for the response type: RendererReady,
// FixtureListUpdate, FixtureStateChange or UnknownMessage. An error is only
// returned when a known type carries a payload of the wrong shape.
func (r RendererResponse) Decode() (any, error) {
	switch r.Type {
	case ResponseRendererReady:
		var msg RendererReady
		return msg, decodePayload(r.Type, r.Payload, &msg)
	case ResponseFixtureListUpdate:
		var msg FixtureListUpdate
		return msg, decodePayload(r.Type, r.Payload, &msg)
	case ResponseFixtureStateChange:
		var msg FixtureStateChange
		return msg, decodePayload(r.Type, r.Payload, &msg)
	default:
		return UnknownMessage{Type: r.Type, Payload: r.Payload}, nil
	}
}

// Decode returns BuildStart, BuildDone, BuildError or UnknownMessage.
func (s ServerMessage) Decode() (any, error) {
	switch s.Type {
	case ServerBuildStart:
		return BuildStart{}, nil
	case ServerBuildDone:
		return BuildDone{}, nil
	case ServerBuildError:
		return BuildError{}, nil
	default:
		return UnknownMessage{Type: s.Type, Payload: s.Payload}, nil
	}
}

// PayloadValue unmarshals the payload into generic Go values, for filters and
// logging. A missing payload yields nil.
func (r RendererResponse) PayloadValue() (any, error) {
	return payloadValue(r.Payload)
}

// PayloadValue unmarshals the payload into generic Go values.
func (s ServerMessage) PayloadValue() (any, error) {
	return payloadValue(s.Payload)
}

func decodePayload(msgType string, payload json.RawMessage, into any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%s message has no payload", msgType)
	}
	if err := json.Unmarshal(payload, into); err != nil {
		return fmt.Errorf("invalid %s payload: %w", msgType, err)
	}
	return nil
}

func payloadValue(payload json.RawMessage) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// ParseEnvelope reads the "type" tag out of a raw channel payload. It fails
// for anything that is not a JSON object with a non-empty string type.
func ParseEnvelope(data []byte) (string, json.RawMessage, error) {
	var envelope struct {
		Type    *string         `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", nil, fmt.Errorf("malformed message: %w", err)
	}
	if envelope.Type == nil || *envelope.Type == "" {
		return "", nil, fmt.Errorf("message has no type")
	}
	payload := envelope.Payload
	if string(payload) == "null" {
		payload = nil
	}
	return *envelope.Type, payload, nil
}
