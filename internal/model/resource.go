package model

import (
	"fmt"
	"strings"
)

// ScopeKeys partitions almost every resource by incident and collaboration
// room. Zero means "not selected".
type ScopeKeys struct {
	IncidentID   int64 `json:"incident_id" yaml:"incident_id"`
	CollabroomID int64 `json:"collabroom_id" yaml:"collabroom_id"`
}

func (s ScopeKeys) String() string {
	return fmt.Sprintf("incident=%d room=%d", s.IncidentID, s.CollabroomID)
}

// HasIncident reports whether an incident is selected.
func (s ScopeKeys) HasIncident() bool { return s.IncidentID != 0 }

// HasRoom reports whether a collaboration room is selected.
func (s ScopeKeys) HasRoom() bool { return s.CollabroomID != 0 }

// ResourceType names something the poller fetches or pushes.
type ResourceType string

const (
	ResourceIncidents             ResourceType = "incidents"
	ResourceOrganizations         ResourceType = "organizations"
	ResourceAlerts                ResourceType = "alerts"
	ResourceCollabrooms           ResourceType = "collabrooms"
	ResourceTrackingLayers        ResourceType = "tracking_layers"
	ResourceCollabroomLayers      ResourceType = "collabroom_layers"
	ResourceOverlappingRoomLayers ResourceType = "overlapping_room_layers"
	ResourceMapMarkup             ResourceType = "map_markup"
	ResourceChatMessages          ResourceType = "chat_messages"
	ResourceChatPresence          ResourceType = "chat_presence"
	ResourceGeneralMessages       ResourceType = "general_messages"
	ResourceEODReports            ResourceType = "eod_reports"
)

// AllResourceTypes lists every resource type in a stable order.
func AllResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceIncidents,
		ResourceOrganizations,
		ResourceAlerts,
		ResourceCollabrooms,
		ResourceTrackingLayers,
		ResourceCollabroomLayers,
		ResourceOverlappingRoomLayers,
		ResourceMapMarkup,
		ResourceChatMessages,
		ResourceChatPresence,
		ResourceGeneralMessages,
		ResourceEODReports,
	}
}

// ParseResourceType validates a resource type name.
func ParseResourceType(name string) (ResourceType, error) {
	rt := ResourceType(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range AllResourceTypes() {
		if rt == known {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unknown resource type %q", name)
}

// RecordKind returns the outbound record kind carried by rt, if any.
func (rt ResourceType) RecordKind() (RecordKind, bool) {
	switch rt {
	case ResourceMapMarkup:
		return KindMarkup, true
	case ResourceChatMessages:
		return KindChat, true
	case ResourceGeneralMessages:
		return KindGeneralMessage, true
	case ResourceEODReports:
		return KindEODReport, true
	default:
		return "", false
	}
}

// LayerKind returns the layered resource kind carried by rt, if any.
func (rt ResourceType) LayerKind() (LayerKind, bool) {
	switch rt {
	case ResourceCollabroomLayers:
		return LayerCollabroom, true
	case ResourceOverlappingRoomLayers:
		return LayerOverlappingRoom, true
	default:
		return "", false
	}
}

// NeedsRoom reports whether rt is meaningless without a selected room.
func (rt ResourceType) NeedsRoom() bool {
	switch rt {
	case ResourceMapMarkup, ResourceChatMessages, ResourceChatPresence,
		ResourceCollabroomLayers, ResourceOverlappingRoomLayers:
		return true
	default:
		return false
	}
}

// NeedsIncident reports whether rt is meaningless without a selected incident.
func (rt ResourceType) NeedsIncident() bool {
	switch rt {
	case ResourceIncidents, ResourceOrganizations:
		return false
	default:
		return true
	}
}

// RecordKind is the type of a user-authored record.
type RecordKind string

const (
	KindChat           RecordKind = "chat"
	KindMarkup         RecordKind = "markup"
	KindGeneralMessage RecordKind = "general_message"
	KindEODReport      RecordKind = "eod_report"
)

// AllRecordKinds lists the outbound record kinds.
func AllRecordKinds() []RecordKind {
	return []RecordKind{KindChat, KindMarkup, KindGeneralMessage, KindEODReport}
}

// ParseRecordKind validates a record kind name.
func ParseRecordKind(name string) (RecordKind, error) {
	k := RecordKind(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range AllRecordKinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown record kind %q", name)
}

// ResourceType returns the poll resource that pushes and fetches k.
func (k RecordKind) ResourceType() ResourceType {
	switch k {
	case KindChat:
		return ResourceChatMessages
	case KindMarkup:
		return ResourceMapMarkup
	case KindGeneralMessage:
		return ResourceGeneralMessages
	case KindEODReport:
		return ResourceEODReports
	default:
		return ""
	}
}
