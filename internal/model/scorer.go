// Package model owns the active scorer: versioned handles, atomic swap,
// durable persistence, and the regression gate guarding replacements.
package model

import (
	"time"
)

// Sample is one featurized training observation.
type Sample struct {
	Features []float64
	Label    float64
}

// Scorer maps featurized candidates to predicted costs. Implementations are
// opaque to the serving path.
type Scorer interface {
	Predict(features [][]float64) ([]float64, error)
}

// Trainable is a scorer that can be fit from scratch on samples.
type Trainable interface {
	Fit(samples []Sample) (Scorer, error)
}

// Embedder is an optional scorer capability: expose the internal
// representation of a featurized candidate for debug capture.
type Embedder interface {
	Embedding(features []float64) []float64
}

// Metadata is the sidecar written next to persisted model state.
type Metadata struct {
	Version     string    `json:"version"`
	TrainedAt   time.Time `json:"trained_at"`
	SampleCount int       `json:"sample_count"`
	Width       int       `json:"width"`
	MAE         float64   `json:"mae,omitempty"`
}

// Handle pairs a scorer with its version identity. Exactly one handle is
// active at a time; handlers work against a snapshot so an in-flight
// prediction always completes against the handle it started with.
type Handle struct {
	Version   string
	CreatedAt time.Time
	Scorer    Scorer
	Meta      Metadata
}
