// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"encoding/json"
	"os"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
)

// Forest is a frozen tree ensemble exported to flat node arrays. Each tree is
// walked from node 0; a negative feature index marks a leaf whose value row
// is the class distribution.
type Forest struct {
	Classes int    `json:"classes"`
	Trees   []Tree `json:"trees"`
}

// Tree holds one decision tree in parallel node arrays.
type Tree struct {
	Feature   []int       `json:"feature"`
	Threshold []float64   `json:"threshold"`
	Left      []int       `json:"left"`
	Right     []int       `json:"right"`
	Value     [][]float64 `json:"value"`
}

// LoadForest reads a forest artifact and validates its shape.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to read tree model %s", path)
	}
	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "malformed tree model %s", path)
	}
	if f.Classes <= 0 || len(f.Trees) == 0 {
		return nil, errors.Errorf(errors.KindInternal, "tree model %s is empty", path)
	}
	for ti := range f.Trees {
		t := &f.Trees[ti]
		n := len(t.Feature)
		if len(t.Threshold) != n || len(t.Left) != n || len(t.Right) != n || len(t.Value) != n {
			return nil, errors.Errorf(errors.KindInternal, "tree %d in %s has inconsistent node arrays", ti, path)
		}
		if !allFinite(t.Threshold) {
			return nil, errors.Errorf(errors.KindInternal, "tree %d in %s has non-finite thresholds", ti, path)
		}
		for ni, row := range t.Value {
			if t.Feature[ni] < 0 && len(row) != f.Classes {
				return nil, errors.Errorf(errors.KindInternal,
					"tree %d leaf %d in %s has %d classes, want %d", ti, ni, path, len(row), f.Classes)
			}
			if !allFinite(row) {
				return nil, errors.Errorf(errors.KindInternal,
					"tree %d node %d in %s has non-finite values", ti, ni, path)
			}
		}
		normalizeLeaves(t)
	}
	return &f, nil
}

// normalizeLeaves converts raw leaf sample counts into probabilities once at
// load so prediction is a pure lookup.
func normalizeLeaves(t *Tree) {
	for ni, row := range t.Value {
		if t.Feature[ni] >= 0 {
			continue
		}
		var sum float64
		for _, c := range row {
			sum += c
		}
		if sum == 0 {
			continue
		}
		for i := range row {
			row[i] /= sum
		}
	}
}

// PredictProba averages the leaf distributions reached by x across all trees.
func (f *Forest) PredictProba(x []float64) []float64 {
	probs := make([]float64, f.Classes)
	for _, t := range f.Trees {
		i := 0
		for t.Feature[i] >= 0 {
			if x[t.Feature[i]] <= t.Threshold[i] {
				i = t.Left[i]
			} else {
				i = t.Right[i]
			}
		}
		for c, p := range t.Value[i] {
			probs[c] += p
		}
	}
	inv := 1 / float64(len(f.Trees))
	for c := range probs {
		probs[c] *= inv
	}
	return probs
}
