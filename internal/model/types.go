package model

import "time"

type ConcernCategory string

// The closed set of concern categories. Declaration order is load-bearing:
// the resolver breaks score ties by the first category declared here.
const (
	CleanEnergy    ConcernCategory = "clean_energy"
	GlobalWarming  ConcernCategory = "global_warming"
	Deforestation  ConcernCategory = "deforestation"
	Extinction     ConcernCategory = "extinction"
	AirPollution   ConcernCategory = "air_pollution"
	WaterPollution ConcernCategory = "water_pollution"
	NoisePollution ConcernCategory = "noise_pollution"
)

var categories = []ConcernCategory{
	CleanEnergy,
	GlobalWarming,
	Deforestation,
	Extinction,
	AirPollution,
	WaterPollution,
	NoisePollution,
}

var categoryLabels = map[ConcernCategory]string{
	CleanEnergy:    "Clean Energy",
	GlobalWarming:  "Global Warming",
	Deforestation:  "Deforestation",
	Extinction:     "Extinction",
	AirPollution:   "Air Pollution",
	WaterPollution: "Water Pollution",
	NoisePollution: "Noise Pollution",
}

// Categories returns the category set in declaration order.
func Categories() []ConcernCategory {
	out := make([]ConcernCategory, len(categories))
	copy(out, categories)
	return out
}

// MatcherLabels returns the category-key to display-label table sent to the
// classifier. One shared table so adding a category is a single edit.
func MatcherLabels() map[string]string {
	out := make(map[string]string, len(categoryLabels))
	for k, v := range categoryLabels {
		out[string(k)] = v
	}
	return out
}

// ValidCategory reports whether key names a member of the category set.
func ValidCategory(key string) bool {
	_, ok := categoryLabels[ConcernCategory(key)]
	return ok
}

// Submission is the client-supplied observation body. The submitter identity
// is attached out-of-band by the API layer, never taken from the body.
type Submission struct {
	Value          float64 `json:"value"`
	Type           string  `json:"type"`
	Notes          string  `json:"notes"`
	CollectionDate string  `json:"collectionDate"`
}

// ConcernScoreMap is the classifier's per-category match score, keyed by
// category. Produced by the classifier client, consumed once by the resolver.
type ConcernScoreMap map[ConcernCategory]float64

// Observation is the classified, attributable record persisted by the store.
// Concern comes only from the resolver, Source only from the authenticated
// identity.
type Observation struct {
	ID             int64           `json:"id,omitempty"`
	Value          float64         `json:"value"`
	Type           string          `json:"type"`
	Notes          string          `json:"notes"`
	CollectionDate string          `json:"collection_date"`
	Concern        ConcernCategory `json:"concern"`
	Source         string          `json:"source"`
	CreatedAt      time.Time       `json:"created_at,omitempty"`
}

// AlertEvent is the normalized message published once per stored observation.
// Title carries the submission's type field; the naming is kept for
// downstream compatibility.
type AlertEvent struct {
	Kind    string          `json:"type"`
	Concern ConcernCategory `json:"concern"`
	Owner   string          `json:"owner"`
	Title   string          `json:"title"`
	Value   float64         `json:"value"`
}

const AlertKindData = "data"

// NewAlertEvent builds the event for a stored observation.
func NewAlertEvent(obs Observation) AlertEvent {
	return AlertEvent{
		Kind:    AlertKindData,
		Concern: obs.Concern,
		Owner:   obs.Source,
		Title:   obs.Type,
		Value:   obs.Value,
	}
}
