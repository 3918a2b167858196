package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainLayer separates layer fingerprints from any other hash this module
// might compute. The version suffix allows the encoding to change later.
const DomainLayer = "fieldsync/layer/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint hashes every field of the layer, features and hazards
// included, except Active. Two layers with the same fingerprint are
// structurally equal.
func (l LayeredResource) Fingerprint() (string, error) {
	data, err := MarshalCanonical(l.canonicalMap())
	if err != nil {
		return "", fmt.Errorf("fingerprint layer %s: %w", l.ID, err)
	}
	return hashWithDomain(DomainLayer, data), nil
}

func (l LayeredResource) canonicalMap() map[string]any {
	features := make([]any, len(l.Features))
	for i, f := range l.Features {
		features[i] = f.canonicalMap()
	}
	return map[string]any{
		"id":            l.ID,
		"kind":          string(l.Kind),
		"incident_id":   l.Scope.IncidentID,
		"collabroom_id": l.Scope.CollabroomID,
		"display_name":  l.DisplayName,
		"created":       l.Created,
		"source": map[string]any{
			"url":          l.Source.URL,
			"type_name":    l.Source.TypeName,
			"layer_name":   l.Source.LayerName,
			"refresh_rate": l.Source.RefreshRate,
		},
		"features": features,
	}
}

func (f ChildFeature) canonicalMap() map[string]any {
	m := map[string]any{
		"feature_id":   f.FeatureID,
		"type":         f.Type,
		"opacity":      f.Opacity,
		"fill_color":   f.FillColor,
		"stroke_color": f.StrokeColor,
		"stroke_width": f.StrokeWidth,
		"rotation":     f.Rotation,
		"label_size":   f.LabelSize,
		"dash_style":   f.DashStyle,
		"label_text":   f.LabelText,
		"graphic":      f.Graphic,
		"coordinates":  canonicalCoords(f.Coordinates),
		"properties":   canonicalProperties(f.Properties),
	}
	if f.Hazard != nil {
		m["hazard"] = map[string]any{
			"hazard_id":   f.Hazard.HazardID,
			"label":       f.Hazard.Label,
			"type":        f.Hazard.Type,
			"radius":      f.Hazard.Radius,
			"metric":      f.Hazard.Metric,
			"coordinates": canonicalCoords(f.Hazard.Coordinates),
		}
	}
	return m
}

func canonicalCoords(coords []LatLng) []any {
	out := make([]any, len(coords))
	for i, c := range coords {
		out[i] = []any{c.Lat, c.Lng}
	}
	return out
}

// canonicalProperties treats nil and empty property maps alike; the store
// cannot tell them apart after a round trip.
func canonicalProperties(props map[string]any) map[string]any {
	if len(props) == 0 {
		return map[string]any{}
	}
	return props
}
