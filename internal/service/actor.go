package service

import (
	"github.com/google/uuid"
	"github.com/nebari-dev/labgate/internal/audit"
)

// Actor identifies who performs an operation, for audit attribution only.
// Role enforcement happens before the service layer.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

// System is the actor used by scheduled and command-line runs.
var System = Actor{Role: "system"}

func (a Actor) event(action, entity, entityID string, meta map[string]interface{}) audit.Event {
	ev := audit.Event{
		ActorRole: a.Role,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Meta:      meta,
	}
	if a.UserID != uuid.Nil {
		id := a.UserID
		ev.ActorUserID = &id
	}
	return ev
}
