package models

import (
	"errors"
	"strings"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrUnknownRole  = errors.New("unknown participant role")
	ErrUnknownEvent = errors.New("unknown event type")
)

// Role identifies which side of a ride-support conversation a participant is on.
type Role string

const (
	RoleRequester Role = "requester"
	RoleResponder Role = "responder"
)

// ParseRole accepts the canonical role names and the legacy ride-app aliases.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "requester", "user", "rider":
		return RoleRequester, nil
	case "responder", "driver":
		return RoleResponder, nil
	case "":
		return "", ErrMissingField
	}
	return "", ErrUnknownRole
}

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleRequester || r == RoleResponder
}

// Opposite returns the counterpart role.
func (r Role) Opposite() Role {
	if r == RoleRequester {
		return RoleResponder
	}
	return RoleRequester
}

// Label is the human readable name used in notifications.
func (r Role) Label() string {
	if r == RoleResponder {
		return "Driver"
	}
	return "Rider"
}

// ConversationIdentity pins a controller to one conversation and one local participant.
type ConversationIdentity struct {
	ConversationID string `json:"conversation_id"`
	ParticipantID  string `json:"participant_id"`
	Role           Role   `json:"role"`
}

// Validate checks that every field is populated.
func (id ConversationIdentity) Validate() error {
	if id.ConversationID == "" || id.ParticipantID == "" {
		return ErrMissingField
	}
	if !id.Role.Valid() {
		return ErrUnknownRole
	}
	return nil
}

// RemoteRole is the role of the other side of the conversation.
func (id ConversationIdentity) RemoteRole() Role {
	return id.Role.Opposite()
}
