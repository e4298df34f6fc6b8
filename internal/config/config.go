// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

// Config is the top-level structure for the IDS configuration. A single HCL
// document describes capture, detection tuning, model artifacts, flow
// storage, alerting, and notification channels.
type Config struct {
	Network       NetworkConfig        `hcl:"network,block"`
	Detection     *DetectionConfig     `hcl:"detection,block"`
	Models        ModelsConfig         `hcl:"models,block"`
	Database      *DatabaseConfig      `hcl:"database,block"`
	Alerts        *AlertsConfig        `hcl:"alerts,block"`
	Notifications *NotificationsConfig `hcl:"notifications,block"`
	Logging       *LoggingConfig       `hcl:"logging,block"`

	// StateDir holds baseline and statistics snapshots.
	// @default: "data"
	StateDir string `hcl:"state_dir,optional"`
}

// NetworkConfig names the capture interface.
type NetworkConfig struct {
	// System-specific interface name (required), e.g. "eth0".
	Interface string `hcl:"interface"`

	// Optional BPF filter applied to the capture handle.
	BPFFilter string `hcl:"bpf_filter,optional"`
}

// DetectionConfig tunes the scoring pipeline and the suppression cascade.
type DetectionConfig struct {
	// "threshold" applies the full filter cascade; "pure_ml" applies only
	// the threat-class layer.
	// @enum: threshold, pure_ml
	Mode string `hcl:"mode,optional"`

	// Minimum ensemble confidence for an alert to pass layer 2.
	// @default: 0.95
	ConfidenceThreshold float64 `hcl:"confidence_threshold,optional"`

	// Minimum packets in a flow for an alert to pass layer 3.
	// @default: 200
	MinPacketThreshold int `hcl:"min_packet_threshold,optional"`

	FilterLocalhost       bool `hcl:"filter_localhost,optional"`
	FilterPrivateNetworks bool `hcl:"filter_private_networks,optional"`

	// Ports considered legitimate service ports for layer 6.
	// @default: [80, 443, 53, 22, 3389]
	WhitelistPorts []int `hcl:"whitelist_ports,optional"`

	// CIDR ranges whose endpoints never alert (layer 4.5).
	WhitelistIPs []string `hcl:"whitelist_ips,optional"`

	// Dotted-decimal prefixes of known cloud providers (layer 4). Unset
	// takes the built-in CDN/cloud list; an explicit empty list disables
	// the layer.
	// @default: DefaultCloudPrefixes
	CloudPrefixes []string `hcl:"cloud_prefixes,optional"`

	// Threat labels that never alert (layer 1).
	IgnoredAttackTypes []string `hcl:"ignored_attack_types,optional"`

	// Flows below this packet count on a whitelisted port are suppressed
	// by layer 6.
	// @default: 500
	LegitimatePortPacketThreshold int `hcl:"legitimate_port_packet_threshold,optional"`

	AdaptiveBaseline *BaselineConfig `hcl:"adaptive_baseline,block"`

	// Flow table and scheduling knobs; zero values take the built-in
	// defaults from ApplyDefaults.
	ScorePacketInterval    int `hcl:"score_packet_interval,optional"`
	FlowIdleTimeoutSeconds int `hcl:"flow_idle_timeout_seconds,optional"`
	MaxFlows               int `hcl:"max_flows,optional"`
	InferenceWorkers       int `hcl:"inference_workers,optional"`
	InferenceTimeoutSecs   int `hcl:"inference_timeout_seconds,optional"`
	ShutdownTimeoutSecs    int `hcl:"shutdown_timeout_seconds,optional"`
}

// BaselineConfig controls the adaptive baseline learner (layer 7).
type BaselineConfig struct {
	Enabled *bool `hcl:"enabled,optional"`

	// Seconds of uptime spent learning normal fingerprints.
	// @default: 3600
	LearningPeriod int `hcl:"learning_period,optional"`

	// Fingerprints seen at least this often during learning are suppressed
	// afterwards.
	// @default: 3
	MinOccurrences int `hcl:"baseline_min_occurrences,optional"`
}

// ModelsConfig names the frozen model artifacts.
type ModelsConfig struct {
	MLPath           string `hcl:"ml_path"`
	DLPath           string `hcl:"dl_path"`
	ScalerPath       string `hcl:"scaler_path"`
	ClassMappingPath string `hcl:"class_mapping_path"`

	// Ensemble benign-fallback threshold; distinct from
	// detection.confidence_threshold.
	// @default: 0.55
	OptimalThreshold float64 `hcl:"optimal_threshold,optional"`

	// @default: 0.6
	MLWeight float64 `hcl:"ml_weight,optional"`
	// @default: 0.4
	DLWeight float64 `hcl:"dl_weight,optional"`
}

// DatabaseConfig controls the persistent flow store.
type DatabaseConfig struct {
	Enabled *bool `hcl:"enabled,optional"`

	// @enum: sqlite, postgresql
	Type string `hcl:"type,optional"`

	// Directory for the sqlite database file.
	Directory string `hcl:"directory,optional"`

	// Connection URL for postgresql.
	URL string `hcl:"url,optional"`

	// Rows older than this are swept hourly; 0 disables sweeping.
	// @default: 30
	RetentionDays *int `hcl:"retention_days,optional"`

	SaveBenignFlows     *bool   `hcl:"save_benign_flows,optional"`
	SaveAttackFlows     *bool   `hcl:"save_attack_flows,optional"`
	MinConfidenceToSave float64 `hcl:"min_confidence_to_save,optional"`
}

// AlertsConfig controls the alert manager.
type AlertsConfig struct {
	// JSON-per-line append log replayed at startup.
	LogPath string `hcl:"log_path,optional"`

	// Repeat (flow, threat) events inside this window update the existing
	// alert instead of creating a new one.
	// @default: 10
	DedupeWindowSeconds int `hcl:"dedupe_window_seconds,optional"`

	// In-memory alert table bound.
	// @default: 10000
	MaxAlerts int `hcl:"max_alerts,optional"`
}

// NotificationsConfig configures outbound alert delivery.
type NotificationsConfig struct {
	Enabled  bool                  `hcl:"enabled,optional"`
	Channels []NotificationChannel `hcl:"channel,block"`
}

// NotificationChannel is one delivery target.
type NotificationChannel struct {
	Name    string `hcl:"name,label"`
	Type    string `hcl:"type"` // webhook, ntfy, email
	Enabled bool   `hcl:"enabled,optional"`

	// Minimum severity to deliver: low, medium, high.
	Level string `hcl:"level,optional"`

	WebhookURL string            `hcl:"webhook_url,optional"`
	Server     string            `hcl:"server,optional"`
	Topic      string            `hcl:"topic,optional"`
	Headers    map[string]string `hcl:"headers,optional"`

	SMTPHost     string   `hcl:"smtp_host,optional"`
	SMTPPort     int      `hcl:"smtp_port,optional"`
	SMTPUser     string   `hcl:"smtp_user,optional"`
	SMTPPassword string   `hcl:"smtp_password,optional"`
	From         string   `hcl:"from,optional"`
	To           []string `hcl:"to,optional"`
}

// LoggingConfig controls the process log output.
type LoggingConfig struct {
	// @enum: debug, info, warn, error
	Level string `hcl:"level,optional"`
	// @enum: text, json
	Format string `hcl:"format,optional"`
}

// DefaultWhitelistPorts are the service ports exempted by layer 6.
var DefaultWhitelistPorts = []int{80, 443, 53, 22, 3389}

// DefaultCloudPrefixes cover CDN and cloud provider ranges that produce
// bursty but legitimate traffic. Matched as string prefixes of the
// dotted-decimal address.
var DefaultCloudPrefixes = []string{
	"140.82.", "192.30.", // GitHub
	"20.", "13.64.", "13.107.", // Microsoft / Azure
	"142.250.", "172.217.", // Google
	"104.16.", "172.64.", // Cloudflare
	"52.", "54.", // AWS
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.StateDir == "" {
		c.StateDir = "data"
	}

	if c.Detection == nil {
		c.Detection = &DetectionConfig{}
	}
	d := c.Detection
	if d.Mode == "" {
		d.Mode = "threshold"
	}
	if d.ConfidenceThreshold == 0 {
		d.ConfidenceThreshold = 0.95
	}
	if d.MinPacketThreshold == 0 {
		d.MinPacketThreshold = 200
	}
	if d.WhitelistPorts == nil {
		d.WhitelistPorts = append([]int(nil), DefaultWhitelistPorts...)
	}
	if d.CloudPrefixes == nil {
		d.CloudPrefixes = append([]string(nil), DefaultCloudPrefixes...)
	}
	if d.LegitimatePortPacketThreshold == 0 {
		d.LegitimatePortPacketThreshold = 500
	}
	if d.ScorePacketInterval == 0 {
		d.ScorePacketInterval = 10
	}
	if d.FlowIdleTimeoutSeconds == 0 {
		d.FlowIdleTimeoutSeconds = 60
	}
	if d.MaxFlows == 0 {
		d.MaxFlows = 50000
	}
	if d.InferenceTimeoutSecs == 0 {
		d.InferenceTimeoutSecs = 2
	}
	if d.ShutdownTimeoutSecs == 0 {
		d.ShutdownTimeoutSecs = 10
	}
	if d.AdaptiveBaseline == nil {
		d.AdaptiveBaseline = &BaselineConfig{}
	}
	b := d.AdaptiveBaseline
	if b.Enabled == nil {
		t := true
		b.Enabled = &t
	}
	if b.LearningPeriod == 0 {
		b.LearningPeriod = 3600
	}
	if b.MinOccurrences == 0 {
		b.MinOccurrences = 3
	}

	if c.Models.OptimalThreshold == 0 {
		c.Models.OptimalThreshold = 0.55
	}
	if c.Models.MLWeight == 0 {
		c.Models.MLWeight = 0.6
	}
	if c.Models.DLWeight == 0 {
		c.Models.DLWeight = 0.4
	}

	if c.Database == nil {
		c.Database = &DatabaseConfig{}
	}
	db := c.Database
	if db.Enabled == nil {
		t := true
		db.Enabled = &t
	}
	if db.Type == "" {
		db.Type = "sqlite"
	}
	if db.Directory == "" {
		db.Directory = "data/flows"
	}
	if db.RetentionDays == nil {
		n := 30
		db.RetentionDays = &n
	}
	if db.SaveBenignFlows == nil {
		t := true
		db.SaveBenignFlows = &t
	}
	if db.SaveAttackFlows == nil {
		t := true
		db.SaveAttackFlows = &t
	}

	if c.Alerts == nil {
		c.Alerts = &AlertsConfig{}
	}
	if c.Alerts.LogPath == "" {
		c.Alerts.LogPath = "logs/alerts.jsonl"
	}
	if c.Alerts.DedupeWindowSeconds == 0 {
		c.Alerts.DedupeWindowSeconds = 10
	}
	if c.Alerts.MaxAlerts == 0 {
		c.Alerts.MaxAlerts = 10000
	}

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}
