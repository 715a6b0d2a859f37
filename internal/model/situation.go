package model

import (
	"time"

	"github.com/google/uuid"
)

// SituationType is an open-set tag: "generic" is the only built-in
// default, domain code is free to use any other string.
type SituationType string

// Generic is the default situation type.
const Generic SituationType = "generic"

// DefaultOwner is the owner assigned to a situation when none is given.
const DefaultOwner = "SYSTEM"

// Situation is a generic temporal object: either an instantaneous event
// (StartTime == EndTime) or a static situation with a non-null duration.
// StartTime/EndTime are nil while "unset", matching the wire convention.
type Situation struct {
	ID          string
	Type        SituationType
	Owner       string
	Description string
	StartTime   *float64
	EndTime     *float64
}

// NewSituation creates a situation with a fresh id, DefaultOwner, and both
// start/end times unset.
func NewSituation(description string, typ SituationType) Situation {
	return Situation{
		ID:          uuid.NewString(),
		Type:        typ,
		Owner:       DefaultOwner,
		Description: description,
	}
}

// NewEvent creates an instantaneous situation with the Generic type and
// DefaultOwner, ready to be handed to TimelineProxy.Event.
func NewEvent(description string) Situation {
	return NewSituation(description, Generic)
}

// IsEvent reports whether the situation is an event: both times set and
// equal.
func (s Situation) IsEvent() bool {
	return s.StartTime != nil && s.EndTime != nil && *s.StartTime == *s.EndTime
}

func (s Situation) String() string {
	if s.Description != "" {
		return s.Description
	}
	return string(s.Type)
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// WireSituation is the wire value of a Situation (§6). StartTime/EndTime
// are nil for "unset".
type WireSituation struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Owner       string   `json:"owner"`
	Description string   `json:"desc"`
	StartTime   *float64 `json:"starttime"`
	EndTime     *float64 `json:"endtime"`
}

// Serialize outputs the wire value of the situation.
func (s Situation) Serialize() WireSituation {
	return WireSituation{
		ID:          s.ID,
		Type:        string(s.Type),
		Owner:       s.Owner,
		Description: s.Description,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
	}
}

// DeserializeSituation creates a Situation from its wire value.
func DeserializeSituation(w WireSituation) Situation {
	return Situation{
		ID:          w.ID,
		Type:        SituationType(w.Type),
		Owner:       w.Owner,
		Description: w.Description,
		StartTime:   w.StartTime,
		EndTime:     w.EndTime,
	}
}
