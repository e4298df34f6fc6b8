// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package model serves the frozen classifier artifacts. Everything is
// immutable after Load and safe to share across inference workers.
package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/features"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
)

// BenignLabel is the class the ensemble falls back to below the optimal
// threshold.
const BenignLabel = "BenignTraffic"

// Severity buckets attached to every prediction.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Prediction methods.
const (
	MethodConsensus      = "ensemble_consensus"
	MethodWeighted       = "ensemble_weighted"
	MethodBelowThreshold = "below_threshold"
	MethodSynthetic      = "synthetic_benign"
)

// Prediction is the outcome of scoring one flow snapshot.
type Prediction struct {
	Label      string  `json:"label"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`

	TreeLabel      string  `json:"tree_label"`
	TreeConfidence float64 `json:"tree_confidence"`
	NNLabel        string  `json:"nn_label"`
	NNConfidence   float64 `json:"nn_confidence"`
}

// IsBenign reports whether the prediction carries no threat.
func (p Prediction) IsBenign() bool { return p.Label == BenignLabel }

// Config locates the artifacts and sets the combination weights.
type Config struct {
	MLPath           string
	DLPath           string
	ScalerPath       string
	ClassMappingPath string

	OptimalThreshold float64
	MLWeight         float64
	DLWeight         float64
}

// Ensemble combines the calibrated tree model with the neural model.
type Ensemble struct {
	scaler *Scaler
	forest *Forest
	nn     *NN
	labels []string

	benignIndex int
	threshold   float64
	mlWeight    float64
	dlWeight    float64
}

// Load reads all artifacts. Any failure here is fatal for the caller; the
// system never runs without a working ensemble.
func Load(cfg Config) (*Ensemble, error) {
	labels, err := loadClassMapping(cfg.ClassMappingPath)
	if err != nil {
		return nil, err
	}
	if err := checkFeatureInfo(cfg.ClassMappingPath); err != nil {
		return nil, err
	}
	threshold, err := loadOptimalThreshold(cfg.ClassMappingPath, cfg.OptimalThreshold)
	if err != nil {
		return nil, err
	}

	scaler, err := LoadScaler(cfg.ScalerPath, features.Count)
	if err != nil {
		return nil, err
	}
	forest, err := LoadForest(cfg.MLPath)
	if err != nil {
		return nil, err
	}
	if forest.Classes != len(labels) {
		return nil, errors.Errorf(errors.KindInternal,
			"tree model emits %d classes, class mapping has %d", forest.Classes, len(labels))
	}
	nn, err := LoadNN(cfg.DLPath, features.Count, len(labels))
	if err != nil {
		return nil, err
	}

	benign := -1
	for i, l := range labels {
		if l == BenignLabel {
			benign = i
			break
		}
	}
	if benign < 0 {
		return nil, errors.Errorf(errors.KindInternal, "class mapping lacks %s", BenignLabel)
	}

	logging.WithComponent("model").Info("ensemble loaded",
		"classes", len(labels),
		"trees", len(forest.Trees),
		"nn_layers", len(nn.Layers),
		"optimal_threshold", threshold)

	return &Ensemble{
		scaler:      scaler,
		forest:      forest,
		nn:          nn,
		labels:      labels,
		benignIndex: benign,
		threshold:   threshold,
		mlWeight:    cfg.MLWeight,
		dlWeight:    cfg.DLWeight,
	}, nil
}

// Labels returns the class alphabet in index order.
func (e *Ensemble) Labels() []string { return e.labels }

// Predict scores a raw 37-feature vector.
func (e *Ensemble) Predict(v []float64) (Prediction, error) {
	if len(v) != features.Count {
		return Prediction{}, errors.Errorf(errors.KindInternal,
			"feature vector has %d dimensions, want %d", len(v), features.Count)
	}
	x := e.scaler.Transform(v)
	pTree := e.forest.PredictProba(x)
	pNN := e.nn.PredictProba(x)

	combined := make([]float64, len(pTree))
	for i := range combined {
		combined[i] = e.mlWeight*pTree[i] + e.dlWeight*pNN[i]
	}

	best := argmax(combined)
	conf := combined[best]
	treeBest := argmax(pTree)
	nnBest := argmax(pNN)

	pred := Prediction{
		TreeLabel:      e.labels[treeBest],
		TreeConfidence: pTree[treeBest],
		NNLabel:        e.labels[nnBest],
		NNConfidence:   pNN[nnBest],
	}

	if conf < e.threshold {
		pred.Label = e.labels[e.benignIndex]
		pred.Confidence = conf
		pred.Method = MethodBelowThreshold
	} else {
		pred.Label = e.labels[best]
		pred.Confidence = conf
		if treeBest == best && nnBest == best {
			pred.Method = MethodConsensus
			pred.Confidence = min(1.0, conf*1.05)
		} else {
			pred.Method = MethodWeighted
		}
	}
	pred.Severity = SeverityFor(pred.Label)
	return pred, nil
}

// SyntheticBenign is the stand-in prediction when inference fails or times
// out; downstream never sees an absent prediction.
func SyntheticBenign() Prediction {
	return Prediction{
		Label:      BenignLabel,
		Severity:   SeverityLow,
		Confidence: 0,
		Method:     MethodSynthetic,
	}
}

// SeverityFor maps a class label to its severity bucket.
func SeverityFor(label string) string {
	switch {
	case label == BenignLabel:
		return SeverityLow
	case strings.HasPrefix(label, "DDoS-"),
		strings.HasPrefix(label, "DoS-"),
		strings.HasPrefix(label, "Recon-"),
		label == "VulnerabilityScan":
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

func argmax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}

// loadClassMapping reads the index-to-label map. The mapping is trusted
// as-is; reconstructing it from the label alphabet would silently desync
// from the trained models.
func loadClassMapping(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to read class mapping %s", path)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "malformed class mapping %s", path)
	}
	if len(raw) == 0 {
		return nil, errors.Errorf(errors.KindInternal, "class mapping %s is empty", path)
	}

	labels := make([]string, len(raw))
	for k, label := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 || idx >= len(labels) {
			return nil, errors.Errorf(errors.KindInternal,
				"class mapping %s has invalid index %q", path, k)
		}
		if labels[idx] != "" {
			return nil, errors.Errorf(errors.KindInternal,
				"class mapping %s repeats index %d", path, idx)
		}
		labels[idx] = label
	}
	return labels, nil
}

// loadOptimalThreshold prefers a tuned optimal_threshold.json exported next
// to the class mapping; the configured value is the fallback.
func loadOptimalThreshold(classMappingPath string, fallback float64) (float64, error) {
	path := filepath.Join(filepath.Dir(classMappingPath), "optimal_threshold.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fallback, nil
		}
		return 0, errors.Wrapf(err, errors.KindInternal, "failed to read %s", path)
	}

	var doc struct {
		OptimalThreshold float64 `json:"optimal_threshold"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, errors.Wrapf(err, errors.KindInternal, "malformed %s", path)
	}
	if doc.OptimalThreshold < 0 || doc.OptimalThreshold > 1 {
		return 0, errors.Errorf(errors.KindInternal,
			"%s value %v is outside [0, 1]", path, doc.OptimalThreshold)
	}
	return doc.OptimalThreshold, nil
}

// checkFeatureInfo compares an optional feature_info.json next to the class
// mapping against the extractor's canonical column order.
func checkFeatureInfo(classMappingPath string) error {
	path := filepath.Join(filepath.Dir(classMappingPath), "feature_info.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, errors.KindInternal, "failed to read %s", path)
	}

	var info struct {
		FeatureNames []string `json:"feature_names"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "malformed %s", path)
	}
	if len(info.FeatureNames) != len(features.Names) {
		return errors.Errorf(errors.KindInternal,
			"%s lists %d features, extractor produces %d", path, len(info.FeatureNames), len(features.Names))
	}
	for i, name := range info.FeatureNames {
		if name != features.Names[i] {
			return errors.Errorf(errors.KindInternal,
				"%s column %d is %q, extractor produces %q", path, i, name, features.Names[i])
		}
	}
	return nil
}
