// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"encoding/json"
	"math"
	"os"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
)

// NN is a frozen feed-forward network of dense layers.
type NN struct {
	Layers []DenseLayer `json:"layers"`
}

// DenseLayer holds row-major weights indexed [input][output].
type DenseLayer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// LoadNN reads a network artifact and validates layer shapes chain.
func LoadNN(path string, inputDims, outputDims int) (*NN, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to read neural model %s", path)
	}
	var nn NN
	if err := json.Unmarshal(data, &nn); err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "malformed neural model %s", path)
	}
	if len(nn.Layers) == 0 {
		return nil, errors.Errorf(errors.KindInternal, "neural model %s has no layers", path)
	}

	in := inputDims
	for li, l := range nn.Layers {
		if len(l.Weights) != in {
			return nil, errors.Errorf(errors.KindInternal,
				"neural model %s layer %d expects %d inputs, got %d", path, li, len(l.Weights), in)
		}
		out := len(l.Bias)
		for _, row := range l.Weights {
			if len(row) != out {
				return nil, errors.Errorf(errors.KindInternal,
					"neural model %s layer %d has ragged weights", path, li)
			}
			if !allFinite(row) {
				return nil, errors.Errorf(errors.KindInternal,
					"neural model %s layer %d has non-finite weights", path, li)
			}
		}
		if !allFinite(l.Bias) {
			return nil, errors.Errorf(errors.KindInternal,
				"neural model %s layer %d has non-finite bias", path, li)
		}
		switch l.Activation {
		case "relu", "softmax", "linear":
		default:
			return nil, errors.Errorf(errors.KindInternal,
				"neural model %s layer %d has unknown activation %q", path, li, l.Activation)
		}
		in = out
	}
	if in != outputDims {
		return nil, errors.Errorf(errors.KindInternal,
			"neural model %s emits %d classes, want %d", path, in, outputDims)
	}
	return &nn, nil
}

// PredictProba runs the forward pass in double precision.
func (nn *NN) PredictProba(x []float64) []float64 {
	a := x
	for _, l := range nn.Layers {
		out := make([]float64, len(l.Bias))
		copy(out, l.Bias)
		for i, xi := range a {
			if xi == 0 {
				continue
			}
			row := l.Weights[i]
			for j, w := range row {
				out[j] += xi * w
			}
		}
		switch l.Activation {
		case "relu":
			for j, v := range out {
				if v < 0 {
					out[j] = 0
				}
			}
		case "softmax":
			softmax(out)
		}
		a = out
	}
	return a
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func softmax(v []float64) {
	maxV := v[0]
	for _, x := range v[1:] {
		if x > maxV {
			maxV = x
		}
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - maxV)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}
