package capture

import (
	"encoding/json"
	"fmt"
)

// Message types exchanged between the host and the preview.
const (
	TypeInit           = "init"
	TypeCheckClipboard = "checkClipboard"
	TypeShoot          = "shoot"
	TypeStateChange    = "onStateChange"
)

// State change kinds carried by TypeStateChange.
const (
	KindUpdateBgColor       = "updateBgColor"
	KindInvalidPasteContent = "invalidPasteContent"
)

// Message is one protocol frame. Exactly one payload field is set, matching
// Type.
type Message struct {
	Type        string       `json:"type"`
	Init        *InitData    `json:"init,omitempty"`
	Shoot       *ShootData   `json:"shoot,omitempty"`
	StateChange *StateChange `json:"stateChange,omitempty"`
}

// InitData seeds a new preview.
type InitData struct {
	FontFamily      string `json:"fontFamily"`
	BackgroundColor string `json:"backgroundColor"`
}

// ShootData carries an encoded capture. ImageBytes travels as base64.
type ShootData struct {
	ImageBytes []byte `json:"imageBytes"`
}

// StateChange reports a preview-side event to the host.
type StateChange struct {
	Kind    string `json:"kind"`
	Payload string `json:"payload,omitempty"`
}

// DecodeMessage parses and validates a frame.
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("capture: decode message: %w", err)
	}
	if err := m.validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) validate() error {
	switch m.Type {
	case TypeCheckClipboard:
		return nil
	case TypeInit:
		if m.Init == nil {
			return fmt.Errorf("capture: %s without payload", m.Type)
		}
	case TypeShoot:
		if m.Shoot == nil || len(m.Shoot.ImageBytes) == 0 {
			return fmt.Errorf("capture: %s without image", m.Type)
		}
	case TypeStateChange:
		if m.StateChange == nil {
			return fmt.Errorf("capture: %s without payload", m.Type)
		}
		switch m.StateChange.Kind {
		case KindUpdateBgColor, KindInvalidPasteContent:
		default:
			return fmt.Errorf("%w: %s/%s", ErrUnknownMessage, m.Type, m.StateChange.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	return nil
}

func initMessage(fontFamily, bg string) Message {
	return Message{Type: TypeInit, Init: &InitData{FontFamily: fontFamily, BackgroundColor: bg}}
}

func stateChangeMessage(kind, payload string) Message {
	return Message{Type: TypeStateChange, StateChange: &StateChange{Kind: kind, Payload: payload}}
}
