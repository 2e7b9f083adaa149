package model

import (
	"encoding/json"
	"time"
)

// Deal is a CRM deal as returned by the deals list endpoint.
type Deal struct {
	ID           string                     `json:"id"`
	Properties   map[string]*string         `json:"properties"`
	CreatedAt    string                     `json:"createdAt,omitempty"`
	UpdatedAt    string                     `json:"updatedAt,omitempty"`
	Archived     bool                       `json:"archived"`
	Associations map[string]AssociationList `json:"associations,omitempty"`
}

// Property returns a deal property or "" when it is absent or null.
func (d Deal) Property(name string) string {
	if v, ok := d.Properties[name]; ok && v != nil {
		return *v
	}
	return ""
}

// AssociationList is the association block embedded in a deal, keyed by object type.
type AssociationList struct {
	Results []AssociatedID `json:"results"`
}

type AssociatedID struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// AssociationType labels one association between a deal and a target object.
type AssociationType struct {
	Category string `json:"category,omitempty"`
	TypeID   int    `json:"typeId"`
	Label    string `json:"label,omitempty"`
}

// AssociationRef links a deal to one engagement object.
type AssociationRef struct {
	FromObjectID string            `json:"fromObjectId"`
	ToObjectID   string            `json:"toObjectId"`
	Types        []AssociationType `json:"associationTypes,omitempty"`
}

// EngagementType names an engagement object type associated with deals.
type EngagementType string

const (
	Notes    EngagementType = "notes"
	Calls    EngagementType = "calls"
	Meetings EngagementType = "meetings"
	Emails   EngagementType = "emails"
	Tasks    EngagementType = "tasks"
)

// EngagementTypes is the fixed set resolved for every deal, in resolution order.
var EngagementTypes = []EngagementType{Notes, Calls, Meetings, Emails, Tasks}

// EngagementSet holds the associations of one type and the objects they resolved to.
// Objects are kept verbatim.
type EngagementSet struct {
	Associations []AssociationRef `json:"associations"`
	Objects      []json.RawMessage `json:"objects"`
}

// EmptyEngagementSet returns a set that serializes as empty arrays rather than null.
func EmptyEngagementSet() EngagementSet {
	return EngagementSet{Associations: []AssociationRef{}, Objects: []json.RawMessage{}}
}

// ActivityRecord is the per-deal export written to activities/{dealId}.json.
type ActivityRecord struct {
	DealID     string                           `json:"deal_id"`
	Timestamp  time.Time                        `json:"timestamp"`
	Error      string                           `json:"error,omitempty"`
	Activities map[EngagementType]EngagementSet `json:"activities"`
}

// NewActivityRecord returns a record with every engagement type present and empty.
func NewActivityRecord(dealID string, ts time.Time) ActivityRecord {
	rec := ActivityRecord{
		DealID:     dealID,
		Timestamp:  ts,
		Activities: make(map[EngagementType]EngagementSet, len(EngagementTypes)),
	}
	for _, t := range EngagementTypes {
		rec.Activities[t] = EmptyEngagementSet()
	}
	return rec
}

// HasActivity reports whether any engagement type has at least one association.
func (r ActivityRecord) HasActivity() bool {
	for _, set := range r.Activities {
		if len(set.Associations) > 0 {
			return true
		}
	}
	return false
}

// TokenSet is the OAuth token state. ExpiresAt is epoch milliseconds; zero means unknown.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Expiry returns ExpiresAt as a time, or the zero time when unknown.
func (t TokenSet) Expiry() time.Time {
	if t.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.ExpiresAt)
}

// Expired reports whether the access token has a known expiry at or before now.
func (t TokenSet) Expired(now time.Time) bool {
	return t.ExpiresAt != 0 && !now.Before(t.Expiry())
}
