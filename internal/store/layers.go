package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/model"
)

// InsertLayerIgnore inserts a layer with its features and hazards.
// Uses ON CONFLICT(kind, layer_id) DO NOTHING: if a layer with the same
// natural key exists, nothing is written and inserted is false.
func (t *Tx) InsertLayerIgnore(ctx context.Context, l model.LayeredResource) (inserted bool, err error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO layers
		(kind, layer_id, incident_id, collabroom_id, display_name, created,
		 source_url, source_type_name, source_layer_name, source_refresh_rate, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, layer_id) DO NOTHING
	`,
		string(l.Kind), l.ID, l.Scope.IncidentID, l.Scope.CollabroomID, l.DisplayName, l.Created,
		l.Source.URL, l.Source.TypeName, l.Source.LayerName, l.Source.RefreshRate, boolToInt(l.Active),
	)
	if err != nil {
		return false, fmt.Errorf("insert layer %s: %w", l.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert layer %s: rows affected: %w", l.ID, err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	rowID, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("insert layer %s: last insert id: %w", l.ID, err)
	}

	if err := insertFeatures(ctx, t.tx, rowID, l.Features); err != nil {
		return false, fmt.Errorf("insert layer %s: %w", l.ID, err)
	}
	return true, nil
}

// ReplaceLayer overwrites the parent row of an existing layer and replaces
// its whole child set. Hazards of the old features go with them through the
// cascade.
func (t *Tx) ReplaceLayer(ctx context.Context, l model.LayeredResource) error {
	var rowID int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT row_id FROM layers WHERE kind = ? AND layer_id = ?
	`, string(l.Kind), l.ID).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("replace layer %s: %w", l.ID, ErrLayerNotFound)
	}
	if err != nil {
		return fmt.Errorf("replace layer %s: %w", l.ID, err)
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE layers SET
			incident_id = ?, collabroom_id = ?, display_name = ?, created = ?,
			source_url = ?, source_type_name = ?, source_layer_name = ?, source_refresh_rate = ?,
			active = ?
		WHERE row_id = ?
	`,
		l.Scope.IncidentID, l.Scope.CollabroomID, l.DisplayName, l.Created,
		l.Source.URL, l.Source.TypeName, l.Source.LayerName, l.Source.RefreshRate,
		boolToInt(l.Active), rowID,
	)
	if err != nil {
		return fmt.Errorf("replace layer %s: update parent: %w", l.ID, err)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM layer_features WHERE layer_row = ?`, rowID); err != nil {
		return fmt.Errorf("replace layer %s: delete features: %w", l.ID, err)
	}

	if err := insertFeatures(ctx, t.tx, rowID, l.Features); err != nil {
		return fmt.Errorf("replace layer %s: %w", l.ID, err)
	}
	return nil
}

// LoadLayers returns every stored row for the natural key (kind, id) with
// features and hazards joined back in position order. Rows come back in
// insertion order. The result is empty, not nil, when nothing matches.
func (t *Tx) LoadLayers(ctx context.Context, kind model.LayerKind, id string) ([]model.LayeredResource, error) {
	return loadLayers(ctx, t.tx, `WHERE kind = ? AND layer_id = ?`, string(kind), id)
}

// LayerIDsForScope lists the ids of layers of kind stored for a room.
func (t *Tx) LayerIDsForScope(ctx context.Context, kind model.LayerKind, collabroomID int64) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT layer_id FROM layers
		WHERE kind = ? AND collabroom_id = ?
		ORDER BY row_id ASC
	`, string(kind), collabroomID)
	if err != nil {
		return nil, fmt.Errorf("query layer ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan layer id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate layer ids: %w", err)
	}
	return ids, nil
}

// DeleteLayer removes a layer. Features and hazards cascade.
func (t *Tx) DeleteLayer(ctx context.Context, kind model.LayerKind, id string) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		DELETE FROM layers WHERE kind = ? AND layer_id = ?
	`, string(kind), id)
	if err != nil {
		return false, fmt.Errorf("delete layer %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete layer %s: rows affected: %w", id, err)
	}
	return n > 0, nil
}

// DeleteLayersForScope removes every layer of kind stored for a room.
func (t *Tx) DeleteLayersForScope(ctx context.Context, kind model.LayerKind, collabroomID int64) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		DELETE FROM layers WHERE kind = ? AND collabroom_id = ?
	`, string(kind), collabroomID)
	if err != nil {
		return 0, fmt.Errorf("delete layers for room %d: %w", collabroomID, err)
	}
	return result.RowsAffected()
}

// SetLayerActive writes the selection flag of one layer.
func (t *Tx) SetLayerActive(ctx context.Context, kind model.LayerKind, id string, active bool) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE layers SET active = ? WHERE kind = ? AND layer_id = ? AND active != ?
	`, boolToInt(active), string(kind), id, boolToInt(active))
	if err != nil {
		return false, fmt.Errorf("set layer %s active: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set layer %s active: rows affected: %w", id, err)
	}
	return n > 0, nil
}

// DeactivateAll clears the selection flag of every layer of kind.
func (t *Tx) DeactivateAll(ctx context.Context, kind model.LayerKind) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE layers SET active = 0 WHERE kind = ? AND active = 1
	`, string(kind))
	if err != nil {
		return 0, fmt.Errorf("deactivate %s layers: %w", kind, err)
	}
	return result.RowsAffected()
}

// GetLayer returns the layer with the natural key (kind, id).
// Returns ErrLayerNotFound if it does not exist.
func (s *Store) GetLayer(ctx context.Context, kind model.LayerKind, id string) (model.LayeredResource, error) {
	layers, err := loadLayers(ctx, s.db, `WHERE kind = ? AND layer_id = ?`, string(kind), id)
	if err != nil {
		return model.LayeredResource{}, err
	}
	if len(layers) == 0 {
		return model.LayeredResource{}, fmt.Errorf("layer %s/%s: %w", kind, id, ErrLayerNotFound)
	}
	return layers[len(layers)-1], nil
}

// ListLayers returns the layers of kind stored for a room, hydrated, in
// insertion order.
func (s *Store) ListLayers(ctx context.Context, kind model.LayerKind, collabroomID int64) ([]model.LayeredResource, error) {
	return loadLayers(ctx, s.db, `WHERE kind = ? AND collabroom_id = ?`, string(kind), collabroomID)
}

// AllLayers returns every stored layer, hydrated, in insertion order.
func (s *Store) AllLayers(ctx context.Context) ([]model.LayeredResource, error) {
	return loadLayers(ctx, s.db, "")
}

// LayerCounts reports how many layer, feature and hazard rows exist.
// Used by the status command and by cascade tests.
type LayerCounts struct {
	Layers   int64 `json:"layers"`
	Features int64 `json:"features"`
	Hazards  int64 `json:"hazards"`
}

// CountLayerRows returns row counts for the three layer tables.
func (s *Store) CountLayerRows(ctx context.Context) (LayerCounts, error) {
	var c LayerCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM layers),
			(SELECT COUNT(*) FROM layer_features),
			(SELECT COUNT(*) FROM hazards)
	`).Scan(&c.Layers, &c.Features, &c.Hazards)
	if err != nil {
		return LayerCounts{}, fmt.Errorf("count layer rows: %w", err)
	}
	return c, nil
}

func insertFeatures(ctx context.Context, q querier, layerRow int64, features []model.ChildFeature) error {
	for i, f := range features {
		coords, err := marshalCoords(f.Coordinates)
		if err != nil {
			return fmt.Errorf("feature %s: %w", f.FeatureID, err)
		}
		props, err := marshalProperties(f.Properties)
		if err != nil {
			return fmt.Errorf("feature %s: %w", f.FeatureID, err)
		}

		result, err := q.ExecContext(ctx, `
			INSERT INTO layer_features
			(layer_row, position, feature_id, type, opacity, fill_color, stroke_color, stroke_width,
			 rotation, label_size, dash_style, label_text, graphic, coordinates, properties)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			layerRow, i, f.FeatureID, f.Type, f.Opacity, f.FillColor, f.StrokeColor, f.StrokeWidth,
			f.Rotation, f.LabelSize, f.DashStyle, f.LabelText, f.Graphic, coords, props,
		)
		if err != nil {
			return fmt.Errorf("insert feature %s: %w", f.FeatureID, err)
		}

		if f.Hazard == nil {
			continue
		}
		featureRow, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert feature %s: last insert id: %w", f.FeatureID, err)
		}
		hazardCoords, err := marshalCoords(f.Hazard.Coordinates)
		if err != nil {
			return fmt.Errorf("hazard %s: %w", f.Hazard.HazardID, err)
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO hazards
			(feature_row, hazard_id, label, type, radius, metric, coordinates)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			featureRow, f.Hazard.HazardID, f.Hazard.Label, f.Hazard.Type,
			f.Hazard.Radius, f.Hazard.Metric, hazardCoords,
		)
		if err != nil {
			return fmt.Errorf("insert hazard %s: %w", f.Hazard.HazardID, err)
		}
	}
	return nil
}

// loadLayers selects parent rows matching where, then hydrates each with its
// features and hazards.
func loadLayers(ctx context.Context, q querier, where string, args ...any) ([]model.LayeredResource, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT row_id, kind, layer_id, incident_id, collabroom_id, display_name, created,
			source_url, source_type_name, source_layer_name, source_refresh_rate, active
		FROM layers
		`+where+`
		ORDER BY row_id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query layers: %w", err)
	}

	type parent struct {
		rowID int64
		layer model.LayeredResource
	}
	var parents []parent
	for rows.Next() {
		var p parent
		var kind string
		var active int
		if err := rows.Scan(
			&p.rowID, &kind, &p.layer.ID, &p.layer.Scope.IncidentID, &p.layer.Scope.CollabroomID,
			&p.layer.DisplayName, &p.layer.Created,
			&p.layer.Source.URL, &p.layer.Source.TypeName, &p.layer.Source.LayerName,
			&p.layer.Source.RefreshRate, &active,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan layer: %w", err)
		}
		p.layer.Kind = model.LayerKind(kind)
		p.layer.Active = active != 0
		parents = append(parents, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate layers: %w", err)
	}
	// Close before issuing child queries: with a single connection the open
	// cursor would otherwise block them.
	rows.Close()

	layers := make([]model.LayeredResource, 0, len(parents))
	for _, p := range parents {
		features, err := loadFeatures(ctx, q, p.rowID)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", p.layer.ID, err)
		}
		p.layer.Features = features
		layers = append(layers, p.layer)
	}
	return layers, nil
}

func loadFeatures(ctx context.Context, q querier, layerRow int64) ([]model.ChildFeature, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT f.feature_id, f.type, f.opacity, f.fill_color, f.stroke_color, f.stroke_width,
			f.rotation, f.label_size, f.dash_style, f.label_text, f.graphic, f.coordinates, f.properties,
			h.hazard_id, h.label, h.type, h.radius, h.metric, h.coordinates
		FROM layer_features f
		LEFT JOIN hazards h ON h.feature_row = f.row_id
		WHERE f.layer_row = ?
		ORDER BY f.position ASC
	`, layerRow)
	if err != nil {
		return nil, fmt.Errorf("query features: %w", err)
	}
	defer rows.Close()

	var features []model.ChildFeature
	for rows.Next() {
		var f model.ChildFeature
		var coords, props string
		var hazardID, hazardLabel, hazardType, hazardMetric, hazardCoords sql.NullString
		var hazardRadius sql.NullFloat64
		if err := rows.Scan(
			&f.FeatureID, &f.Type, &f.Opacity, &f.FillColor, &f.StrokeColor, &f.StrokeWidth,
			&f.Rotation, &f.LabelSize, &f.DashStyle, &f.LabelText, &f.Graphic, &coords, &props,
			&hazardID, &hazardLabel, &hazardType, &hazardRadius, &hazardMetric, &hazardCoords,
		); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}

		if f.Coordinates, err = unmarshalCoords(coords); err != nil {
			return nil, fmt.Errorf("feature %s: %w", f.FeatureID, err)
		}
		if f.Properties, err = unmarshalProperties(props); err != nil {
			return nil, fmt.Errorf("feature %s: %w", f.FeatureID, err)
		}

		if hazardID.Valid {
			h := &model.Hazard{
				HazardID: hazardID.String,
				Label:    hazardLabel.String,
				Type:     hazardType.String,
				Radius:   hazardRadius.Float64,
				Metric:   hazardMetric.String,
			}
			if h.Coordinates, err = unmarshalCoords(hazardCoords.String); err != nil {
				return nil, fmt.Errorf("hazard %s: %w", h.HazardID, err)
			}
			f.Hazard = h
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate features: %w", err)
	}
	return features, nil
}
