package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of change event
type EventType string

const (
	EventPrescriptionCreated     EventType = "PrescriptionCreated"
	EventPrescriptionUpdated     EventType = "PrescriptionUpdated"
	EventPrescriptionDeactivated EventType = "PrescriptionDeactivated"
	EventPrescriptionDeleted     EventType = "PrescriptionDeleted"
	EventFamilyMemberUpdated     EventType = "FamilyMemberUpdated"
	EventFamilyMemberRemoved     EventType = "FamilyMemberRemoved"
	EventMedicationUpdated       EventType = "MedicationUpdated"
)

// Aggregate types carried on events.
const (
	AggregatePrescription = "Prescription"
	AggregateFamilyMember = "FamilyMember"
	AggregateMedication   = "Medication"
)

// Event is a change that invalidates derived schedule views. Events are
// written to the outbox in the same transaction as the change itself.
type Event struct {
	ID             string          `json:"id"`
	AggregateID    string          `json:"aggregate_id"`
	AggregateType  string          `json:"aggregate_type"`
	EventType      EventType       `json:"event_type"`
	EventData      json.RawMessage `json:"event_data"`
	FamilyMemberID string          `json:"family_member_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ChangeData is the payload of every schedule-affecting event.
type ChangeData struct {
	PrescriptionID string `json:"prescription_id,omitempty"`
	FamilyMemberID string `json:"family_member_id,omitempty"`
	MedicationID   string `json:"medication_id,omitempty"`
	Active         *bool  `json:"active,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateType string, aggregateID uuid.UUID, eventType EventType, data ChangeData) *Event {
	// ChangeData has only string and bool fields, so Marshal cannot fail.
	payload, _ := json.Marshal(data)
	return &Event{
		ID:             uuid.New().String(),
		AggregateID:    aggregateID.String(),
		AggregateType:  aggregateType,
		EventType:      eventType,
		EventData:      payload,
		FamilyMemberID: data.FamilyMemberID,
		Timestamp:      time.Now().UTC(),
	}
}

// Key is the partition key used when the event is published. Events for
// one family member stay ordered.
func (e *Event) Key() string {
	if e.FamilyMemberID != "" {
		return e.FamilyMemberID
	}
	return e.AggregateID
}
