// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
)

const minimalConfig = `
network {
  interface = "eth0"
}

models {
  ml_path            = "models/forest.json"
  dl_path            = "models/nn.json"
  scaler_path        = "models/scaler.json"
  class_mapping_path = "models/class_mapping.json"
}
`

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load([]byte(minimalConfig), "test.hcl")
	require.NoError(t, err)

	assert.Equal(t, "eth0", cfg.Network.Interface)
	assert.Equal(t, "threshold", cfg.Detection.Mode)
	assert.Equal(t, 0.95, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, 200, cfg.Detection.MinPacketThreshold)
	assert.Equal(t, []int{80, 443, 53, 22, 3389}, cfg.Detection.WhitelistPorts)
	assert.Equal(t, DefaultCloudPrefixes, cfg.Detection.CloudPrefixes)
	assert.Equal(t, 500, cfg.Detection.LegitimatePortPacketThreshold)
	assert.Equal(t, 10, cfg.Detection.ScorePacketInterval)
	assert.Equal(t, 60, cfg.Detection.FlowIdleTimeoutSeconds)
	assert.Equal(t, 50000, cfg.Detection.MaxFlows)

	require.NotNil(t, cfg.Detection.AdaptiveBaseline)
	assert.True(t, *cfg.Detection.AdaptiveBaseline.Enabled)
	assert.Equal(t, 3600, cfg.Detection.AdaptiveBaseline.LearningPeriod)
	assert.Equal(t, 3, cfg.Detection.AdaptiveBaseline.MinOccurrences)

	assert.Equal(t, 0.55, cfg.Models.OptimalThreshold)
	assert.Equal(t, 0.6, cfg.Models.MLWeight)
	assert.Equal(t, 0.4, cfg.Models.DLWeight)

	assert.True(t, *cfg.Database.Enabled)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 30, *cfg.Database.RetentionDays)

	assert.Equal(t, 10, cfg.Alerts.DedupeWindowSeconds)
	assert.Equal(t, 10000, cfg.Alerts.MaxAlerts)
}

func TestLoadFullDetectionBlock(t *testing.T) {
	src := minimalConfig + `
detection {
  mode                    = "pure_ml"
  confidence_threshold    = 0.9
  min_packet_threshold    = 100
  filter_private_networks = false
  whitelist_ips           = ["10.1.0.0/16"]
  cloud_prefixes          = ["140.82.", "13.107."]
  ignored_attack_types    = ["DoS-TCP_Flood"]

  adaptive_baseline {
    enabled         = false
    learning_period = 600
  }
}
`
	cfg, err := Load([]byte(src), "test.hcl")
	require.NoError(t, err)

	assert.Equal(t, "pure_ml", cfg.Detection.Mode)
	assert.False(t, cfg.Detection.FilterPrivateNetworks)
	assert.Equal(t, []string{"140.82.", "13.107."}, cfg.Detection.CloudPrefixes)
	assert.False(t, *cfg.Detection.AdaptiveBaseline.Enabled)
	assert.Equal(t, 600, cfg.Detection.AdaptiveBaseline.LearningPeriod)

	prefixes := cfg.Detection.WhitelistPrefixes()
	require.Len(t, prefixes, 1)
	assert.Equal(t, "10.1.0.0/16", prefixes[0].String())
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"missing interface", `
network {
  interface = ""
}
models {
  ml_path            = "a"
  dl_path            = "b"
  scaler_path        = "c"
  class_mapping_path = "d"
}
`},
		{"bad mode", minimalConfig + `
detection {
  mode = "hybrid"
}
`},
		{"bad cidr", minimalConfig + `
detection {
  whitelist_ips = ["not-a-cidr"]
}
`},
		{"bad database type", minimalConfig + `
database {
  type = "mongodb"
}
`},
		{"negative max_flows", minimalConfig + `
detection {
  max_flows = -1
}
`},
		{"negative score interval", minimalConfig + `
detection {
  score_packet_interval = -5
}
`},
		{"negative inference workers", minimalConfig + `
detection {
  inference_workers = -2
}
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load([]byte(tc.src), "test.hcl")
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.GetKind(err))
		})
	}
}

func TestEmptyCloudPrefixListDisablesLayer(t *testing.T) {
	src := minimalConfig + `
detection {
  cloud_prefixes = []
}
`
	cfg, err := Load([]byte(src), "test.hcl")
	require.NoError(t, err)
	assert.Empty(t, cfg.Detection.CloudPrefixes, "explicit empty list overrides the built-in defaults")
}

func TestMissingModelPathIsValidation(t *testing.T) {
	src := `
network {
  interface = "eth0"
}
models {
  ml_path            = ""
  dl_path            = "b"
  scaler_path        = "c"
  class_mapping_path = "d"
}
`
	_, err := Load([]byte(src), "test.hcl")
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}
