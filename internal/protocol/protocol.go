// Package protocol defines the messages exchanged between the host and source providers.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/timmy/artfeed/internal/domain"
)

const (
	// ActionPublishState is the action a source sends to publish its state.
	ActionPublishState = "publish_state"

	// ActionHandleCommand is the action the host sends to ask a source to run a command.
	ActionHandleCommand = "handle_command"

	// BuiltinCommandIDNextArtwork is the reserved command id for "next artwork".
	BuiltinCommandIDNextArtwork = 1001
)

// ErrNoState is returned by DecodeState when the message carries no state.
var ErrNoState = errors.New("message carries no state")

// Message is an inbound message from a source provider.
type Message struct {
	Action string          `json:"action"`
	Token  string          `json:"token"`
	State  json.RawMessage `json:"state,omitempty"`
}

// ArtworkPayload is the artwork a source announces as its current one.
type ArtworkPayload struct {
	ImageURI    string  `json:"imageUri"`
	Title       string  `json:"title,omitempty"`
	Byline      string  `json:"byline,omitempty"`
	Attribution string  `json:"attribution,omitempty"`
	Token       string  `json:"token,omitempty"`
	MetaFont    string  `json:"metaFont,omitempty"`
	ViewIntent  *string `json:"viewIntent,omitempty"`
}

// UnmarshalJSON accepts "viewAction" as an alternate name for viewIntent.
func (p *ArtworkPayload) UnmarshalJSON(data []byte) error {
	type plain ArtworkPayload
	var v struct {
		plain
		ViewAction *string `json:"viewAction"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = ArtworkPayload(v.plain)
	if p.ViewIntent == nil {
		p.ViewIntent = v.ViewAction
	}
	return nil
}

// SourceState is the capability and content update published by a source.
type SourceState struct {
	Description           string               `json:"description,omitempty"`
	WantsNetworkAvailable bool                 `json:"wantsNetworkAvailable"`
	UserCommands          []domain.UserCommand `json:"userCommands,omitempty"`
	CurrentArtwork        *ArtworkPayload      `json:"currentArtwork,omitempty"`
}

// DecodeState decodes the message's serialized state.
// Parameters: none.
// Returns:
//   - *SourceState: decoded state.
//   - error: ErrNoState when absent, or the decoding error.
func (m *Message) DecodeState() (*SourceState, error) {
	raw := bytes.TrimSpace(m.State)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrNoState
	}
	var state SourceState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// NewPublishMessage builds a publish message for the given token and state.
func NewPublishMessage(token string, state *SourceState) (*Message, error) {
	msg := &Message{Action: ActionPublishState, Token: token}
	if state != nil {
		raw, err := json.Marshal(state)
		if err != nil {
			return nil, err
		}
		msg.State = raw
	}
	return msg, nil
}

// CommandRequest is sent to a source's callback URL to invoke one of its commands.
type CommandRequest struct {
	Action    string `json:"action"`
	Token     string `json:"token"`
	CommandID int    `json:"commandId"`
}
