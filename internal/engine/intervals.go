package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/model"
)

// Group is a named subset of resource types started and stopped together.
type Group string

const (
	// GroupAll is the full room working set.
	GroupAll Group = "all"
	// GroupIncident polls incident-wide resources.
	GroupIncident Group = "incident"
	// GroupCollabroom polls the selected room.
	GroupCollabroom Group = "collabroom"
	// GroupServer polls server-wide lists.
	GroupServer Group = "server"
)

var groupMembers = map[Group][]model.ResourceType{
	GroupAll: {
		model.ResourceMapMarkup,
		model.ResourceChatMessages,
		model.ResourceGeneralMessages,
		model.ResourceEODReports,
		model.ResourceAlerts,
		model.ResourceCollabroomLayers,
		model.ResourceCollabrooms,
		model.ResourceTrackingLayers,
	},
	GroupIncident: {
		model.ResourceAlerts,
		model.ResourceCollabrooms,
		model.ResourceTrackingLayers,
	},
	GroupCollabroom: {
		model.ResourceMapMarkup,
		model.ResourceCollabroomLayers,
		model.ResourceChatMessages,
		model.ResourceChatPresence,
		model.ResourceGeneralMessages,
		model.ResourceEODReports,
	},
	GroupServer: {
		model.ResourceIncidents,
		model.ResourceOrganizations,
	},
}

// AllGroups lists the groups in a stable order.
func AllGroups() []Group {
	return []Group{GroupAll, GroupIncident, GroupCollabroom, GroupServer}
}

// ParseGroup validates a group name.
func ParseGroup(name string) (Group, error) {
	g := Group(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := groupMembers[g]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownGroup, name)
	}
	return g, nil
}

// Members returns the resource types g arms, in arming order.
func (g Group) Members() []model.ResourceType {
	return append([]model.ResourceType(nil), groupMembers[g]...)
}

// IntervalFor returns the poll interval of rt when armed by g.
//
// The group matters for general messages and EOD reports: the room group
// polls them at the collabroom rate, the full group at the incident rate.
// Chat presence keeps its own rate in low-data mode since it is already
// slower than the low-data rate.
func IntervalFor(g Group, rt model.ResourceType, r config.Rates) time.Duration {
	switch rt {
	case model.ResourceChatPresence:
		return r.ChatPresence
	case model.ResourceMapMarkup, model.ResourceChatMessages, model.ResourceCollabrooms:
		return r.Effective(r.Collabroom)
	case model.ResourceGeneralMessages, model.ResourceEODReports:
		if g == GroupCollabroom {
			return r.Effective(r.Collabroom)
		}
		return r.Effective(r.Incident)
	case model.ResourceAlerts, model.ResourceIncidents, model.ResourceOrganizations:
		return r.Effective(r.Incident)
	case model.ResourceCollabroomLayers, model.ResourceTrackingLayers:
		return r.Effective(r.WFS)
	default:
		return r.Effective(r.Incident)
	}
}

// encodeGroups renders an armed set for engine_state, sorted.
func encodeGroups(armed map[Group]bool) string {
	names := make([]string, 0, len(armed))
	for g, on := range armed {
		if on {
			names = append(names, string(g))
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// decodeGroups parses encodeGroups output. Unknown names are skipped so an
// older database never blocks a session from opening.
func decodeGroups(s string) []Group {
	var groups []Group
	for _, name := range strings.Split(s, ",") {
		if name == "" {
			continue
		}
		if g, err := ParseGroup(name); err == nil {
			groups = append(groups, g)
		}
	}
	return groups
}
