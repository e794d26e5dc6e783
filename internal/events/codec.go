package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/pinnotify/pkg/validator"
)

// ErrMalformedEvent marks payloads that can never be processed.
var ErrMalformedEvent = errors.New("malformed event")

// Decode parses a JSON payload for the given domain, validates the envelope and
// checks that a known type belongs to the domain.
// A zero timestamp is replaced with the current time.
func Decode(domain Domain, payload []byte) (Event, error) {
	var (
		ev  Event
		err error
	)

	switch domain {
	case DomainChat:
		var chat ChatEvent
		err = decodeInto(payload, &chat, &chat.Envelope)
		ev = chat
	case DomainContent:
		var content ContentEvent
		err = decodeInto(payload, &content, &content.Envelope)
		ev = content
	case DomainUser:
		var user UserEvent
		err = decodeInto(payload, &user, &user.Envelope)
		ev = user
	default:
		return nil, fmt.Errorf("%w: unknown domain %q", ErrMalformedEvent, domain)
	}
	if err != nil {
		return nil, err
	}

	if err := validator.ValidateStruct(ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	// Unknown types pass through and are rejected by the orchestrator; a known
	// type on another domain's schema cannot carry its subject ids.
	if typ, err := MapType(ev.Header().Type); err == nil && DomainFor(typ) != domain {
		return nil, fmt.Errorf("%w: %s is not a %s event", ErrMalformedEvent, typ, domain)
	}
	return ev, nil
}

// Encode serialises an event for the bus.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	return json.Marshal(ev)
}

func decodeInto(payload []byte, target any, env *Envelope) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedEvent)
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	env.Type = strings.TrimSpace(env.Type)
	env.ActorID = strings.TrimSpace(env.ActorID)
	env.RecipientID = strings.TrimSpace(env.RecipientID)
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	return nil
}
