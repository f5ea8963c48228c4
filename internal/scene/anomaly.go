package scene

import "log/slog"

// Anomaly kinds recorded during a conversion run.
const (
	AnomalyDanglingReference  = "dangling_reference"
	AnomalyMaterialOutOfRange = "material_out_of_range"
	AnomalyTextureListVariant = "texture_list_variant"
	AnomalyMissingTexture     = "missing_texture"
)

// Anomaly is one recovered irregularity: the run completed, but an entity
// was substituted or degraded.
type Anomaly struct {
	Kind   string
	Entity string
	Detail string
}

// Recorder accumulates anomalies for the run summary and the report
// database. Every record is also logged at warn level so a degraded run is
// distinguishable from a clean one in log output.
type Recorder struct {
	Anomalies []Anomaly
}

// Record logs and stores one anomaly.
func (r *Recorder) Record(kind, entity, detail string) {
	r.Anomalies = append(r.Anomalies, Anomaly{Kind: kind, Entity: entity, Detail: detail})
	slog.Warn("Recovered anomaly", "kind", kind, "entity", entity, "detail", detail)
}

// Count returns the number of recorded anomalies.
func (r *Recorder) Count() int {
	return len(r.Anomalies)
}
