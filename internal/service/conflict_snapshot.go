package service

import (
	"encoding/json"
	"strings"
)

// ConflictField declares one client-editable field: the flat key the
// client form uses, the dot path into the stored document, and a human
// label for the diff UI. The snapshot logic below is driven entirely by
// this table: extending the editable surface means adding a row here,
// not touching extraction code.
type ConflictField struct {
	Key   string
	Path  string
	Label string
}

// ReservationConflictFields is the field map for reservation edit forms.
var ReservationConflictFields = []ConflictField{
	{Key: "title", Path: "title", Label: "Title"},
	{Key: "description", Path: "description", Label: "Description"},
	{Key: "locations", Path: "locations", Label: "Rooms"},
	{Key: "startDateTime", Path: "start_date_time", Label: "Start"},
	{Key: "endDateTime", Path: "end_date_time", Label: "End"},
	{Key: "isAllDayEvent", Path: "is_all_day_event", Label: "All-day event"},
	{Key: "isOffsite", Path: "is_offsite", Label: "Offsite"},
	{Key: "offsiteVenueName", Path: "offsite_venue_name", Label: "Venue name"},
	{Key: "offsiteVenueAddress", Path: "offsite_venue_address", Label: "Venue address"},
	{Key: "reviewNotes", Path: "review_notes", Label: "Review notes"},
	{Key: "editRequestStatus", Path: "pending_edit_request.status", Label: "Edit request state"},
}

// SnapshotEntry is one row of a conflict snapshot: the live value of a
// client-editable field at the moment a write was rejected.
type SnapshotEntry struct {
	Key   string      `json:"field"`
	Label string      `json:"label"`
	Value interface{} `json:"current_value"`
}

// ExtractConflictSnapshot walks every declared field path over the
// document and returns the current values in declaration order. It is a
// pure function over the document the guarded update already re-read,
// so building a 409 body never costs another round trip. Missing
// intermediate objects yield a nil value rather than an error.
func ExtractConflictSnapshot(doc interface{}, fields []ConflictField) []SnapshotEntry {
	m := toDocumentMap(doc)
	out := make([]SnapshotEntry, 0, len(fields))
	for _, f := range fields {
		out = append(out, SnapshotEntry{Key: f.Key, Label: f.Label, Value: lookupPath(m, f.Path)})
	}
	return out
}

// toDocumentMap renders the typed document through its JSON form, which
// is also the shape the dot paths in the field map address.
func toDocumentMap(doc interface{}) map[string]interface{} {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func lookupPath(m map[string]interface{}, path string) interface{} {
	var current interface{} = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = obj[part]
		if !ok {
			return nil
		}
	}
	return current
}
