package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"kuroko/internal/util"
)

// Persisted model directory layout. The sidecar metadata file travels with
// the weights so offline tooling can inspect a model without loading it.
const (
	modelFile          = "model.json"
	weightsFile        = "weights.json"
	inputTransformFile = "input_transform.json"
	labelTransformFile = "label_transform.json"
	metadataFile       = "metadata.json"
)

type modelInfo struct {
	Type      string    `json:"type"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	ItemCount int       `json:"item_count"`
	Width     int       `json:"width"`
}

type weightsState struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

type inputTransform struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

type labelTransform struct {
	Kind string `json:"kind"`
}

// SaveDir serializes the handle into dir all-or-nothing: state is written to
// a temporary sibling directory and atomically renamed into place, so a crash
// mid-save cannot leave a torn model on disk.
func SaveDir(h *Handle, dir string) error {
	lin, ok := h.Scorer.(*LinearScorer)
	if !ok {
		return fmt.Errorf("save: unsupported scorer type %T", h.Scorer)
	}
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errors.Wrap(err, "create model parent dir")
	}
	tmp, err := os.MkdirTemp(parent, ".model-save-")
	if err != nil {
		return errors.Wrap(err, "create temp model dir")
	}
	defer os.RemoveAll(tmp)

	info := modelInfo{
		Type:      "linear",
		Version:   h.Version,
		CreatedAt: h.CreatedAt,
		ItemCount: h.Meta.SampleCount,
		Width:     lin.Width(),
	}
	files := map[string]any{
		modelFile:          info,
		weightsFile:        weightsState{Weights: lin.Weights, Bias: lin.Bias},
		inputTransformFile: inputTransform{Mean: lin.Mean, Std: lin.Std},
		labelTransformFile: labelTransform{Kind: "log1p"},
		metadataFile:       h.Meta,
	}
	for name, payload := range files {
		if err := writeJSON(filepath.Join(tmp, name), payload); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrap(err, "clear previous model dir")
	}
	if err := os.Rename(tmp, dir); err != nil {
		return errors.Wrap(err, "install model dir")
	}
	return nil
}

// LoadDir deserializes a handle from a persisted model directory.
func LoadDir(dir string) (*Handle, error) {
	var info modelInfo
	if err := readJSON(filepath.Join(dir, modelFile), &info); err != nil {
		return nil, err
	}
	if info.Type != "linear" {
		return nil, fmt.Errorf("load: unsupported model type %q", info.Type)
	}
	var weights weightsState
	if err := readJSON(filepath.Join(dir, weightsFile), &weights); err != nil {
		return nil, err
	}
	var input inputTransform
	if err := readJSON(filepath.Join(dir, inputTransformFile), &input); err != nil {
		return nil, err
	}
	var label labelTransform
	if err := readJSON(filepath.Join(dir, labelTransformFile), &label); err != nil {
		return nil, err
	}
	if label.Kind != "log1p" {
		return nil, fmt.Errorf("load: unsupported label transform %q", label.Kind)
	}
	if len(weights.Weights) != info.Width || len(input.Mean) != info.Width || len(input.Std) != info.Width {
		return nil, fmt.Errorf("load: shape mismatch, want width %d", info.Width)
	}
	scorer := &LinearScorer{
		Weights: weights.Weights,
		Bias:    weights.Bias,
		Mean:    input.Mean,
		Std:     input.Std,
	}
	h := &Handle{
		Version:   info.Version,
		CreatedAt: info.CreatedAt,
		Scorer:    scorer,
	}
	// The sidecar is advisory; a model without one still loads.
	if err := readJSON(filepath.Join(dir, metadataFile), &h.Meta); err != nil {
		h.Meta = Metadata{Version: info.Version, TrainedAt: info.CreatedAt, SampleCount: info.ItemCount, Width: info.Width}
	}
	return h, nil
}

func writeJSON(path string, payload any) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", filepath.Base(path))
	}
	defer util.CloseWithErr(f, filepath.Base(path))
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return errors.Wrapf(enc.Encode(payload), "encode %s", filepath.Base(path))
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", filepath.Base(path))
	}
	return errors.Wrapf(json.Unmarshal(data, out), "decode %s", filepath.Base(path))
}
