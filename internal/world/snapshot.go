package world

// #region object-status
// Vector3 is a world-space position.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ObjectStatus is one sampled entity of the application under test.
type ObjectStatus struct {
	ID             int64    `json:"id"`
	Path           string   `json:"path"`
	NormalizedPath string   `json:"normalizedPath,omitempty"`
	HasRenderer    bool     `json:"hasRenderer"`
	Position       *Vector3 `json:"position,omitempty"`
	ScreenRect     *Rect    `json:"screenRect,omitempty"`
}

// Key returns the path criteria are matched against.
func (o ObjectStatus) Key() string {
	if o.NormalizedPath != "" {
		return o.NormalizedPath
	}
	return o.Path
}
// #endregion object-status

// #region snapshot
// Snapshot maps a stable entity id to its status for one tick. It is read-only to the engine.
type Snapshot map[int64]ObjectStatus

// Clone returns a shallow copy that is safe to retain across ticks.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
// #endregion snapshot

// #region deltas
// PathDelta counts the objects under one path: live now, added and removed since the prior key frame.
type PathDelta struct {
	Count   int
	Added   int
	Removed int
}

// Deltas computes per-path counts of current against prior.
// A path whose objects were all removed is still present with Count 0.
func Deltas(prior, current Snapshot) map[string]PathDelta {
	out := make(map[string]PathDelta, len(current))
	for id, obj := range current {
		key := obj.Key()
		d := out[key]
		d.Count++
		if prev, ok := prior[id]; !ok || prev.Key() != key {
			d.Added++
		}
		out[key] = d
	}
	for id, obj := range prior {
		key := obj.Key()
		if now, ok := current[id]; ok && now.Key() == key {
			continue
		}
		d := out[key]
		d.Removed++
		out[key] = d
	}
	return out
}
// #endregion deltas
