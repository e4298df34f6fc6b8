// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"encoding/json"
	"math"
	"os"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
)

// Scaler applies the per-feature affine transform the models were trained
// with: subtract mean, divide by standard deviation.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// clipSigma bounds scaled values; wildly out-of-distribution inputs would
// otherwise dominate the tree thresholds and saturate the network.
const clipSigma = 5.0

// LoadScaler reads a scaler artifact and checks its dimensionality.
func LoadScaler(path string, dims int) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to read scaler %s", path)
	}
	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "malformed scaler %s", path)
	}
	if len(s.Mean) != dims || len(s.Scale) != dims {
		return nil, errors.Errorf(errors.KindInternal,
			"scaler %s has %d/%d dimensions, want %d", path, len(s.Mean), len(s.Scale), dims)
	}
	// Zero-variance columns scale by 1, matching the training transform.
	for i, sc := range s.Scale {
		if sc == 0 {
			s.Scale[i] = 1
		}
	}
	return &s, nil
}

// Transform scales a feature vector. Non-finite inputs are zeroed first and
// the result is clipped to ±clipSigma.
func (s *Scaler) Transform(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = 0
		}
		scaled := (x - s.Mean[i]) / s.Scale[i]
		if scaled > clipSigma {
			scaled = clipSigma
		} else if scaled < -clipSigma {
			scaled = -clipSigma
		}
		out[i] = scaled
	}
	return out
}
