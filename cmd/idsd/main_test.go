// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/config"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/features"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/model"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// writeModelArtifacts builds a minimal loadable 2-class model set.
func writeModelArtifacts(t *testing.T, dir string) config.ModelsConfig {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	writeJSON(t, filepath.Join(dir, "class_mapping.json"), map[string]string{
		"0": "BenignTraffic",
		"1": "DDoS-SYN_Flood",
	})

	mean := make([]float64, features.Count)
	scale := make([]float64, features.Count)
	for i := range scale {
		scale[i] = 1
	}
	writeJSON(t, filepath.Join(dir, "scaler.json"), model.Scaler{Mean: mean, Scale: scale})

	writeJSON(t, filepath.Join(dir, "forest.json"), model.Forest{
		Classes: 2,
		Trees: []model.Tree{{
			Feature:   []int{-1},
			Threshold: []float64{0},
			Left:      []int{-1},
			Right:     []int{-1},
			Value:     [][]float64{{1, 0}},
		}},
	})

	weights := make([][]float64, features.Count)
	for i := range weights {
		weights[i] = []float64{0, 0}
	}
	writeJSON(t, filepath.Join(dir, "nn.json"), model.NN{
		Layers: []model.DenseLayer{{Weights: weights, Bias: []float64{0, 0}, Activation: "softmax"}},
	})

	return config.ModelsConfig{
		MLPath:           filepath.Join(dir, "forest.json"),
		DLPath:           filepath.Join(dir, "nn.json"),
		ScalerPath:       filepath.Join(dir, "scaler.json"),
		ClassMappingPath: filepath.Join(dir, "class_mapping.json"),
	}
}

// A failed capture open must exit before the alert log, flow database or
// state directory come into existence.
func TestCaptureOpenFailureCreatesNoArtifacts(t *testing.T) {
	dir := t.TempDir()

	cfg := &config.Config{}
	cfg.Network.Interface = "idsd-test-no-such-interface"
	cfg.Models = writeModelArtifacts(t, filepath.Join(dir, "models"))
	cfg.ApplyDefaults()
	cfg.StateDir = filepath.Join(dir, "state")
	cfg.Database.Directory = filepath.Join(dir, "flows")
	cfg.Alerts.LogPath = filepath.Join(dir, "logs", "alerts.jsonl")

	code := runDaemon(cfg, filepath.Join(dir, "missing.pcap"), "127.0.0.1:0")
	assert.Equal(t, exitUsage, code)

	for _, p := range []string{cfg.Alerts.LogPath, cfg.Database.Directory, cfg.StateDir} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "artifact created at %s", p)
	}
}
