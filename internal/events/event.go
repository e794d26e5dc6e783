// Package events defines the inbound domain events consumed by the notification
// pipeline. Event is a closed sum type: ChatEvent, ContentEvent and UserEvent are
// its only implementations.
package events

import (
	"time"
)

// Domain names the producing area of an event; each has its own wire schema.
type Domain string

const (
	DomainChat    Domain = "chat"
	DomainContent Domain = "content"
	DomainUser    Domain = "user"
)

// Envelope carries the fields shared by every event variant.
type Envelope struct {
	Type           string    `json:"type" validate:"required"`
	ActorID        string    `json:"actorId" validate:"required"`
	RecipientID    string    `json:"recipientId" validate:"required"`
	ReferenceID    string    `json:"referenceId,omitempty"`
	PreviewText    string    `json:"previewText,omitempty"`
	PreviewImageID string    `json:"previewImageId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Event is implemented only by the variants declared in this package.
type Event interface {
	Header() Envelope
	Domain() Domain
	sealed()
}

// ChatEvent is emitted by the messaging service for each new chat message.
type ChatEvent struct {
	Envelope
	ChatID      string `json:"chatId" validate:"required"`
	MessageID   string `json:"messageId,omitempty"`
	MessageType string `json:"messageType,omitempty"`
}

// ContentEvent covers pin and comment interactions. SecondaryRefID is the parent
// comment for replies.
type ContentEvent struct {
	Envelope
	PinID          string `json:"pinId,omitempty"`
	CommentID      string `json:"commentId,omitempty"`
	SecondaryRefID string `json:"secondaryRefId,omitempty"`
	BoardID        string `json:"boardId,omitempty"`
}

// UserEvent carries follow activity; actor and recipient say everything.
type UserEvent struct {
	Envelope
}

func (e ChatEvent) Header() Envelope    { return e.Envelope }
func (e ContentEvent) Header() Envelope { return e.Envelope }
func (e UserEvent) Header() Envelope    { return e.Envelope }

func (ChatEvent) Domain() Domain    { return DomainChat }
func (ContentEvent) Domain() Domain { return DomainContent }
func (UserEvent) Domain() Domain    { return DomainUser }

func (ChatEvent) sealed()    {}
func (ContentEvent) sealed() {}
func (UserEvent) sealed()    {}

// PinRef returns the pin the event is about. Producers that only fill the
// envelope reference id use it for the pin.
func (e ContentEvent) PinRef() string {
	if e.PinID != "" {
		return e.PinID
	}
	return e.ReferenceID
}

// IsSelfAction reports whether the actor is also the recipient.
func IsSelfAction(ev Event) bool {
	h := ev.Header()
	return h.ActorID == h.RecipientID
}
