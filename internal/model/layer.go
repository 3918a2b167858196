package model

import (
	"fmt"
	"strings"
)

// LayerKind distinguishes the two server-authoritative layer collections.
type LayerKind string

const (
	// LayerCollabroom is a data layer attached to a collaboration room.
	LayerCollabroom LayerKind = "collabroom_layer"
	// LayerOverlappingRoom is another room's markup shown as a layer.
	LayerOverlappingRoom LayerKind = "overlapping_room_layer"
)

// ParseLayerKind validates a layer kind name.
func ParseLayerKind(name string) (LayerKind, error) {
	switch k := LayerKind(strings.ToLower(strings.TrimSpace(name))); k {
	case LayerCollabroom, LayerOverlappingRoom:
		return k, nil
	default:
		return "", fmt.Errorf("unknown layer kind %q", name)
	}
}

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// LayerSource describes where the map client loads the layer from.
type LayerSource struct {
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`
	TypeName    string `json:"type_name,omitempty" yaml:"type_name,omitempty"`
	LayerName   string `json:"layer_name,omitempty" yaml:"layer_name,omitempty"`
	RefreshRate int    `json:"refresh_rate,omitempty" yaml:"refresh_rate,omitempty"`
}

// LayeredResource is a map data layer owning an ordered list of features.
//
// ID is the natural key within Kind. Active is client-local selection state;
// it is not part of structural equality (see Fingerprint) and survives a
// server-side replace when the stored copy was active.
type LayeredResource struct {
	ID          string         `json:"id" yaml:"id"`
	Kind        LayerKind      `json:"kind" yaml:"kind"`
	Scope       ScopeKeys      `json:"scope" yaml:"scope"`
	DisplayName string         `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Created     string         `json:"created,omitempty" yaml:"created,omitempty"`
	Source      LayerSource    `json:"source" yaml:"source,omitempty"`
	Active      bool           `json:"active" yaml:"active,omitempty"`
	Features    []ChildFeature `json:"features" yaml:"features,omitempty"`
}

// ChildFeature is a single drawable feature of a layer.
type ChildFeature struct {
	FeatureID   string         `json:"feature_id" yaml:"feature_id"`
	Type        string         `json:"type,omitempty" yaml:"type,omitempty"`
	Opacity     float64        `json:"opacity,omitempty" yaml:"opacity,omitempty"`
	FillColor   int64          `json:"fill_color,omitempty" yaml:"fill_color,omitempty"`
	StrokeColor int64          `json:"stroke_color,omitempty" yaml:"stroke_color,omitempty"`
	StrokeWidth int64          `json:"stroke_width,omitempty" yaml:"stroke_width,omitempty"`
	Rotation    float64        `json:"rotation,omitempty" yaml:"rotation,omitempty"`
	LabelSize   int64          `json:"label_size,omitempty" yaml:"label_size,omitempty"`
	DashStyle   string         `json:"dash_style,omitempty" yaml:"dash_style,omitempty"`
	LabelText   string         `json:"label_text,omitempty" yaml:"label_text,omitempty"`
	Graphic     string         `json:"graphic,omitempty" yaml:"graphic,omitempty"`
	Coordinates []LatLng       `json:"coordinates,omitempty" yaml:"coordinates,omitempty"`
	Properties  map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Hazard      *Hazard        `json:"hazard,omitempty" yaml:"hazard,omitempty"`
}

// Hazard is the geofence attached to a feature. Proximity is computed
// elsewhere; the engine only stores it.
type Hazard struct {
	HazardID    string   `json:"hazard_id" yaml:"hazard_id"`
	Label       string   `json:"label,omitempty" yaml:"label,omitempty"`
	Type        string   `json:"type,omitempty" yaml:"type,omitempty"`
	Radius      float64  `json:"radius,omitempty" yaml:"radius,omitempty"`
	Metric      string   `json:"metric,omitempty" yaml:"metric,omitempty"`
	Coordinates []LatLng `json:"coordinates,omitempty" yaml:"coordinates,omitempty"`
}

// Validate checks the fields the store needs to key the layer.
func (l LayeredResource) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("layer: empty id")
	}
	if _, err := ParseLayerKind(string(l.Kind)); err != nil {
		return fmt.Errorf("layer %s: %w", l.ID, err)
	}
	seen := make(map[string]bool, len(l.Features))
	for i, f := range l.Features {
		if f.FeatureID == "" {
			return fmt.Errorf("layer %s: feature[%d]: empty feature id", l.ID, i)
		}
		if seen[f.FeatureID] {
			return fmt.Errorf("layer %s: duplicate feature id %q", l.ID, f.FeatureID)
		}
		seen[f.FeatureID] = true
		if f.Hazard != nil && f.Hazard.HazardID == "" {
			return fmt.Errorf("layer %s: feature %s: hazard without id", l.ID, f.FeatureID)
		}
	}
	return nil
}

// Equal reports structural equality over every field except Active.
func (l LayeredResource) Equal(other LayeredResource) bool {
	a, errA := l.Fingerprint()
	b, errB := other.Fingerprint()
	if errA != nil || errB != nil {
		return false
	}
	return a == b
}
