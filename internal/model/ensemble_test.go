// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/features"
)

const synCountIdx = 12 // column the test models split on

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// writeArtifacts builds a 2-class model set that flags flows with any SYN
// packets as DDoS-SYN_Flood.
func writeArtifacts(t *testing.T, dir string) Config {
	t.Helper()

	writeJSON(t, filepath.Join(dir, "class_mapping.json"), map[string]string{
		"0": "BenignTraffic",
		"1": "DDoS-SYN_Flood",
	})

	mean := make([]float64, features.Count)
	scale := make([]float64, features.Count)
	for i := range scale {
		scale[i] = 1
	}
	writeJSON(t, filepath.Join(dir, "scaler.json"), Scaler{Mean: mean, Scale: scale})

	writeJSON(t, filepath.Join(dir, "forest.json"), Forest{
		Classes: 2,
		Trees: []Tree{{
			Feature:   []int{synCountIdx, -1, -1},
			Threshold: []float64{0.5, 0, 0},
			Left:      []int{1, -1, -1},
			Right:     []int{2, -1, -1},
			// Raw leaf counts; Load normalizes to 0.8/0.2 and 0.1/0.9.
			Value: [][]float64{{0, 0}, {8, 2}, {1, 9}},
		}},
	})

	weights := make([][]float64, features.Count)
	for i := range weights {
		weights[i] = []float64{0, 0}
	}
	weights[synCountIdx] = []float64{-4, 4}
	writeJSON(t, filepath.Join(dir, "nn.json"), NN{
		Layers: []DenseLayer{{Weights: weights, Bias: []float64{0, 0}, Activation: "softmax"}},
	})

	return Config{
		MLPath:           filepath.Join(dir, "forest.json"),
		DLPath:           filepath.Join(dir, "nn.json"),
		ScalerPath:       filepath.Join(dir, "scaler.json"),
		ClassMappingPath: filepath.Join(dir, "class_mapping.json"),
		OptimalThreshold: 0.55,
		MLWeight:         0.6,
		DLWeight:         0.4,
	}
}

func attackVector() []float64 {
	v := make([]float64, features.Count)
	v[synCountIdx] = 1
	return v
}

func TestPredictConsensus(t *testing.T) {
	e, err := Load(writeArtifacts(t, t.TempDir()))
	require.NoError(t, err)

	pred, err := e.Predict(attackVector())
	require.NoError(t, err)

	assert.Equal(t, "DDoS-SYN_Flood", pred.Label)
	assert.Equal(t, SeverityMedium, pred.Severity)
	assert.Equal(t, MethodConsensus, pred.Method)
	// Tree 0.9, NN softmax(-4,4) ≈ 0.99966; combined 0.93987, boosted 1.05x.
	assert.InDelta(t, 0.98686, pred.Confidence, 1e-3)
	assert.Equal(t, "DDoS-SYN_Flood", pred.TreeLabel)
	assert.Equal(t, "DDoS-SYN_Flood", pred.NNLabel)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
}

func TestPredictBenign(t *testing.T) {
	e, err := Load(writeArtifacts(t, t.TempDir()))
	require.NoError(t, err)

	pred, err := e.Predict(make([]float64, features.Count))
	require.NoError(t, err)

	assert.True(t, pred.IsBenign())
	assert.Equal(t, SeverityLow, pred.Severity)
}

func TestPredictBelowThreshold(t *testing.T) {
	cfg := writeArtifacts(t, t.TempDir())
	cfg.OptimalThreshold = 0.99
	e, err := Load(cfg)
	require.NoError(t, err)

	pred, err := e.Predict(attackVector())
	require.NoError(t, err)

	assert.Equal(t, BenignLabel, pred.Label)
	assert.Equal(t, MethodBelowThreshold, pred.Method)
	assert.InDelta(t, 0.93987, pred.Confidence, 1e-3)
	// Sub-predictions still report what each model saw.
	assert.Equal(t, "DDoS-SYN_Flood", pred.TreeLabel)
}

func TestPredictZeroesNonFinite(t *testing.T) {
	e, err := Load(writeArtifacts(t, t.TempDir()))
	require.NoError(t, err)

	v := attackVector()
	v[0] = math.NaN()
	v[4] = math.Inf(1)
	pred, err := e.Predict(v)
	require.NoError(t, err)
	assert.Equal(t, "DDoS-SYN_Flood", pred.Label)
	assert.False(t, math.IsNaN(pred.Confidence))
}

func TestOptimalThresholdFileOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeArtifacts(t, dir)

	writeJSON(t, filepath.Join(dir, "optimal_threshold.json"), map[string]float64{
		"optimal_threshold": 0.99,
	})
	e, err := Load(cfg)
	require.NoError(t, err)

	pred, err := e.Predict(attackVector())
	require.NoError(t, err)
	assert.Equal(t, MethodBelowThreshold, pred.Method, "tuned threshold wins over config")
}

func TestOptimalThresholdOutOfRangeFatal(t *testing.T) {
	dir := t.TempDir()
	cfg := writeArtifacts(t, dir)

	writeJSON(t, filepath.Join(dir, "optimal_threshold.json"), map[string]float64{
		"optimal_threshold": 1.5,
	})
	_, err := Load(cfg)
	assert.Error(t, err)
}

func TestFeatureInfoMismatchFatal(t *testing.T) {
	dir := t.TempDir()
	cfg := writeArtifacts(t, dir)

	writeJSON(t, filepath.Join(dir, "feature_info.json"), map[string]any{
		"feature_names": []string{"wrong", "order"},
	})
	_, err := Load(cfg)
	assert.Error(t, err)
}

func TestFeatureInfoMatchAccepted(t *testing.T) {
	dir := t.TempDir()
	cfg := writeArtifacts(t, dir)

	writeJSON(t, filepath.Join(dir, "feature_info.json"), map[string]any{
		"feature_names": features.Names,
	})
	_, err := Load(cfg)
	assert.NoError(t, err)
}

func TestMissingArtifactFatal(t *testing.T) {
	cfg := writeArtifacts(t, t.TempDir())
	cfg.MLPath = filepath.Join(t.TempDir(), "absent.json")
	_, err := Load(cfg)
	assert.Error(t, err)
}

func TestClassCountMismatchFatal(t *testing.T) {
	dir := t.TempDir()
	cfg := writeArtifacts(t, dir)
	writeJSON(t, cfg.ClassMappingPath, map[string]string{
		"0": "BenignTraffic",
		"1": "DDoS-SYN_Flood",
		"2": "XSS",
	})
	_, err := Load(cfg)
	assert.Error(t, err)
}

func TestScalerTransform(t *testing.T) {
	s := &Scaler{
		Mean:  []float64{10, 0, 0},
		Scale: []float64{2, 1, 1},
	}
	out := s.Transform([]float64{14, math.NaN(), 100})
	assert.Equal(t, 2.0, out[0])
	assert.Equal(t, 0.0, out[1], "NaN zeroed before scaling")
	assert.Equal(t, 5.0, out[2], "clipped to +5 sigma")
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityLow, SeverityFor("BenignTraffic"))
	assert.Equal(t, SeverityMedium, SeverityFor("DDoS-ICMP_Flood"))
	assert.Equal(t, SeverityMedium, SeverityFor("DoS-UDP_Flood"))
	assert.Equal(t, SeverityMedium, SeverityFor("Recon-PortScan"))
	assert.Equal(t, SeverityMedium, SeverityFor("VulnerabilityScan"))
	assert.Equal(t, SeverityHigh, SeverityFor("Mirai-udpplain"))
	assert.Equal(t, SeverityHigh, SeverityFor("SqlInjection"))
	assert.Equal(t, SeverityHigh, SeverityFor("MITM-ArpSpoofing"))
}

func TestSyntheticBenign(t *testing.T) {
	p := SyntheticBenign()
	assert.True(t, p.IsBenign())
	assert.Equal(t, 0.0, p.Confidence)
	assert.Equal(t, SeverityLow, p.Severity)
}
