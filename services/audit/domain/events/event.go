// Package events defines the business event distributed by the event sink:
// who did what to which entity, and the routing key bus consumers bind to.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is the action an event records.
type Type string

const (
	TypeCreated  Type = "CREATED"
	TypeModified Type = "MODIFIED"
	TypeDeleted  Type = "DELETED"
	TypeExpired  Type = "EXPIRED"
)

// Target is the kind of entity an event is about.
type Target string

const (
	TargetConsumer      Target = "CONSUMER"
	TargetOwner         Target = "OWNER"
	TargetEntitlement   Target = "ENTITLEMENT"
	TargetPool          Target = "POOL"
	TargetExport        Target = "EXPORT"
	TargetImport        Target = "IMPORT"
	TargetUser          Target = "USER"
	TargetRole          Target = "ROLE"
	TargetSubscription  Target = "SUBSCRIPTION"
	TargetActivationKey Target = "ACTIVATIONKEY"
	TargetGuestID       Target = "GUESTID"
	TargetRules         Target = "RULES"
	TargetCompliance    Target = "COMPLIANCE"
)

// Principal identifies who performed the action.
type Principal struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// SystemPrincipal is used for events raised by scheduled jobs and other
// non-interactive work.
var SystemPrincipal = Principal{Name: "System", ID: "system"}

// IsSystem reports whether p is the system principal.
func (p Principal) IsSystem() bool {
	return p == SystemPrincipal
}

// Event is a single business occurrence. It is a value: once queued it is
// never modified, and the payload bytes are copied on construction.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       Type            `json:"type"`
	Target     Target          `json:"target"`
	TargetName string          `json:"targetName,omitempty"`
	Principal  Principal       `json:"principal"`
	EntityID   string          `json:"entityId"`
	OwnerID    string          `json:"ownerId"`
	Timestamp  time.Time       `json:"timestamp"`
	// Payload is copied when the event is queued. Listeners must treat it
	// as read-only.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an Event stamped with a fresh id and the current UTC time.
// payload may be nil; otherwise it is marshalled to JSON immediately so later
// changes to the source entity cannot leak into the event.
func New(typ Type, target Target, principal Principal, entityID, ownerID, targetName string, payload any) (Event, error) {
	e := Event{
		ID:         uuid.New(),
		Type:       typ,
		Target:     target,
		TargetName: targetName,
		Principal:  principal,
		EntityID:   entityID,
		OwnerID:    ownerID,
		Timestamp:  time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", e.Key(), err)
		}
		e.Payload = raw
	}
	return e, nil
}

// RoutingKey is lower(target) + Capitalize(lower(type)), e.g. "poolCreated".
func (e Event) RoutingKey() string {
	return RoutingKey(e.Type, e.Target)
}

// RoutingKey builds the topic name consumers bind to for (typ, target).
func RoutingKey(typ Type, target Target) string {
	return strings.ToLower(string(target)) + capitalize(strings.ToLower(string(typ)))
}

var (
	allTypes   = []Type{TypeCreated, TypeModified, TypeDeleted, TypeExpired}
	allTargets = []Target{
		TargetConsumer, TargetOwner, TargetEntitlement, TargetPool, TargetExport,
		TargetImport, TargetUser, TargetRole, TargetSubscription,
		TargetActivationKey, TargetGuestID, TargetRules, TargetCompliance,
	}
)

// AllRoutingKeys lists every routing key an event can carry. The bus uses it
// to create topic storage at startup.
func AllRoutingKeys() []string {
	keys := make([]string, 0, len(allTypes)*len(allTargets))
	for _, target := range allTargets {
		for _, typ := range allTypes {
			keys = append(keys, RoutingKey(typ, target))
		}
	}
	return keys
}

// destinationAliases renames targets whose external name differs from the
// internal one.
var destinationAliases = map[Target]string{
	TargetSubscription: "product",
}

// Destination is the dotted external name, e.g. "pool.created" or
// "product.expired" for subscriptions.
func (e Event) Destination() string {
	name, ok := destinationAliases[e.Target]
	if !ok {
		name = strings.ToLower(string(e.Target))
	}
	return name + "." + strings.ToLower(string(e.Type))
}

// Key is the TYPE-TARGET form used by the audit filter configuration.
func (e Event) Key() string {
	return string(e.Type) + "-" + string(e.Target)
}

// Marshal returns the wire representation consumed by bus subscribers.
func (e Event) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.ID, err)
	}
	return b, nil
}

// String renders a short description for logs.
func (e Event) String() string {
	return fmt.Sprintf("Event[%s %s entity=%s owner=%s by=%s]", e.Type, e.Target, e.EntityID, e.OwnerID, e.Principal.Name)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
