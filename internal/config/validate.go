// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
)

// Validate checks the configuration after defaults have been applied.
// Any violation is fatal at startup.
func (c *Config) Validate() error {
	var problems []string

	if c.Network.Interface == "" {
		problems = append(problems, "network.interface is required")
	}

	d := c.Detection
	switch d.Mode {
	case "threshold", "pure_ml":
	default:
		problems = append(problems, fmt.Sprintf("detection.mode %q is not one of threshold, pure_ml", d.Mode))
	}
	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		problems = append(problems, "detection.confidence_threshold must be in [0, 1]")
	}
	if d.MinPacketThreshold < 0 {
		problems = append(problems, "detection.min_packet_threshold must be non-negative")
	}
	for _, p := range d.WhitelistPorts {
		if p < 0 || p > 65535 {
			problems = append(problems, fmt.Sprintf("detection.whitelist_ports entry %d is not a valid port", p))
		}
	}
	for _, cidr := range d.WhitelistIPs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			problems = append(problems, fmt.Sprintf("detection.whitelist_ips entry %q is not a valid CIDR", cidr))
		}
	}
	if d.ScorePacketInterval < 1 {
		problems = append(problems, "detection.score_packet_interval must be positive")
	}
	if d.FlowIdleTimeoutSeconds < 1 {
		problems = append(problems, "detection.flow_idle_timeout_seconds must be positive")
	}
	if d.MaxFlows < 1 {
		problems = append(problems, "detection.max_flows must be positive")
	}
	if d.InferenceWorkers < 0 {
		problems = append(problems, "detection.inference_workers must be non-negative")
	}
	if d.InferenceTimeoutSecs < 1 {
		problems = append(problems, "detection.inference_timeout_seconds must be positive")
	}
	if d.ShutdownTimeoutSecs < 1 {
		problems = append(problems, "detection.shutdown_timeout_seconds must be positive")
	}
	if d.AdaptiveBaseline.LearningPeriod < 0 {
		problems = append(problems, "detection.adaptive_baseline.learning_period must be non-negative")
	}
	if d.AdaptiveBaseline.MinOccurrences < 1 {
		problems = append(problems, "detection.adaptive_baseline.baseline_min_occurrences must be at least 1")
	}

	m := c.Models
	for _, p := range []struct {
		name string
		path string
	}{
		{"models.ml_path", m.MLPath},
		{"models.dl_path", m.DLPath},
		{"models.scaler_path", m.ScalerPath},
		{"models.class_mapping_path", m.ClassMappingPath},
	} {
		if p.path == "" {
			problems = append(problems, p.name+" is required")
		}
	}
	if m.OptimalThreshold < 0 || m.OptimalThreshold > 1 {
		problems = append(problems, "models.optimal_threshold must be in [0, 1]")
	}
	if m.MLWeight < 0 || m.DLWeight < 0 {
		problems = append(problems, "models weights must be non-negative")
	}

	db := c.Database
	switch db.Type {
	case "sqlite", "postgresql":
	default:
		problems = append(problems, fmt.Sprintf("database.type %q is not one of sqlite, postgresql", db.Type))
	}
	if db.Type == "postgresql" && db.URL == "" {
		problems = append(problems, "database.url is required when database.type is postgresql")
	}
	if db.MinConfidenceToSave < 0 || db.MinConfidenceToSave > 1 {
		problems = append(problems, "database.min_confidence_to_save must be in [0, 1]")
	}
	if *db.RetentionDays < 0 {
		problems = append(problems, "database.retention_days must be non-negative")
	}

	if c.Alerts.DedupeWindowSeconds < 0 {
		problems = append(problems, "alerts.dedupe_window_seconds must be non-negative")
	}

	if c.Notifications != nil {
		for _, ch := range c.Notifications.Channels {
			switch ch.Type {
			case "webhook", "ntfy", "email":
			default:
				problems = append(problems, fmt.Sprintf("notifications.channel %q has unknown type %q", ch.Name, ch.Type))
			}
		}
	}

	if len(problems) > 0 {
		return errors.Errorf(errors.KindValidation, "invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// WhitelistPrefixes parses detection.whitelist_ips into prefixes. Validate
// has already ensured they parse.
func (d *DetectionConfig) WhitelistPrefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(d.WhitelistIPs))
	for _, cidr := range d.WhitelistIPs {
		if p, err := netip.ParsePrefix(cidr); err == nil {
			out = append(out, p.Masked())
		}
	}
	return out
}
