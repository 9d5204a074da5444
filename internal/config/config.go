// Package config loads the YAML configuration and maps it onto component
// configs.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikeyg42/motioncam/internal/detection"
	"github.com/mikeyg42/motioncam/internal/logging"
	"github.com/mikeyg42/motioncam/internal/motion"
	"github.com/mikeyg42/motioncam/internal/notification"
	"github.com/mikeyg42/motioncam/internal/recorder"
	"github.com/mikeyg42/motioncam/internal/storage"
	"github.com/mikeyg42/motioncam/internal/zones"
)

// Config holds all application configuration
type Config struct {
	Capture      CaptureConfig      `yaml:"capture" json:"capture"`
	Motion       MotionConfig       `yaml:"motion" json:"motion"`
	Recording    RecordingConfig    `yaml:"recording" json:"recording"`
	Detection    DetectionConfig    `yaml:"detection" json:"detection"`
	Notification NotificationConfig `yaml:"notification" json:"notification"`
	Storage      StorageConfig      `yaml:"storage" json:"storage"`
	API          APIConfig          `yaml:"api" json:"api"`
	PostProcess  PostProcessConfig  `yaml:"postprocess" json:"postprocess"`
	Log          LogConfig          `yaml:"log" json:"log"`
}

// CaptureConfig selects the frame source.
type CaptureConfig struct {
	// Source is a device index ("0") or a URL / file path. Empty starts idle.
	Source      string `yaml:"source" json:"source"`
	DrawRegions bool   `yaml:"draw_regions" json:"draw_regions"`
	// NetworkTimeout bounds a blocked read on URL sources.
	NetworkTimeout time.Duration `yaml:"network_timeout" json:"network_timeout"`
}

// MotionConfig contains background subtraction and region filter settings
type MotionConfig struct {
	Enabled        bool         `yaml:"enabled" json:"enabled"`
	History        int          `yaml:"history" json:"history"`
	VarThreshold   float64      `yaml:"var_threshold" json:"var_threshold"`
	KernelSize     int          `yaml:"kernel_size" json:"kernel_size"`
	MinAreaRatio   float64      `yaml:"min_area_ratio" json:"min_area_ratio"`
	MaxAreaRatio   float64      `yaml:"max_area_ratio" json:"max_area_ratio"`
	ExclusionZones []zones.Zone `yaml:"exclusion_zones" json:"exclusion_zones"`
}

// RecordingConfig contains clip output settings
type RecordingConfig struct {
	ClipsDir          string        `yaml:"clips_dir" json:"clips_dir"`
	TempDir           string        `yaml:"temp_dir" json:"temp_dir"`
	OutputFPS         float64       `yaml:"output_fps" json:"output_fps"`
	MaxDuration       time.Duration `yaml:"max_duration" json:"max_duration"`
	NoMotionThreshold int           `yaml:"no_motion_threshold" json:"no_motion_threshold"`
	Codec             string        `yaml:"codec" json:"codec"`
	Extension         string        `yaml:"extension" json:"extension"`
	MinFreeSpaceMB    uint64        `yaml:"min_free_space_mb" json:"min_free_space_mb"`
	FFmpegPath        string        `yaml:"ffmpeg_path" json:"ffmpeg_path"`
}

// DetectionConfig points at the object detection service
type DetectionConfig struct {
	ServiceURL          string        `yaml:"service_url" json:"service_url"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" json:"confidence_threshold"`
	EnabledClasses      []string      `yaml:"enabled_classes" json:"enabled_classes"`
}

// NotificationConfig contains alert delivery settings
type NotificationConfig struct {
	SystemName string      `yaml:"system_name" json:"system_name"`
	SMTP       SMTPConfig  `yaml:"smtp" json:"smtp"`
	Gmail      GmailConfig `yaml:"gmail" json:"gmail"`
	Retry      RetryConfig `yaml:"retry" json:"retry"`
}

type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	From     string `yaml:"from" json:"from"`
	To       string `yaml:"to" json:"to"`
}

type GmailConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-"`
	TokenPath    string `yaml:"token_path" json:"token_path"`
	From         string `yaml:"from" json:"from"`
	To           string `yaml:"to" json:"to"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	Delay       time.Duration `yaml:"delay" json:"delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// StorageConfig contains clip archive and catalog settings
type StorageConfig struct {
	MinIO    MinIOConfig    `yaml:"minio" json:"minio"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
}

type MinIOConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Endpoint        string        `yaml:"endpoint" json:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key" json:"-"`
	UseSSL          bool          `yaml:"use_ssl" json:"use_ssl"`
	Bucket          string        `yaml:"bucket" json:"bucket"`
	Region          string        `yaml:"region" json:"region"`
	Prefix          string        `yaml:"prefix" json:"prefix"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`
}

type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"-"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// APIConfig contains HTTP server settings
type APIConfig struct {
	Addr           string          `yaml:"addr" json:"addr"`
	AllowedOrigins []string        `yaml:"allowed_origins" json:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// PostProcessConfig sizes the post-processing queue
type PostProcessConfig struct {
	QueueSize  int           `yaml:"queue_size" json:"queue_size"`
	JobTimeout time.Duration `yaml:"job_timeout" json:"job_timeout"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Load reads configPath, applies defaults and validates. An empty path
// yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the defaults without touching the filesystem.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Capture.NetworkTimeout == 0 {
		c.Capture.NetworkTimeout = 10 * time.Second
	}
	md := motion.DefaultConfig()
	if c.Motion.History == 0 {
		c.Motion.History = md.History
	}
	if c.Motion.VarThreshold == 0 {
		c.Motion.VarThreshold = md.VarThreshold
	}
	if c.Motion.KernelSize == 0 {
		c.Motion.KernelSize = md.KernelSize
	}
	if c.Motion.MinAreaRatio == 0 {
		c.Motion.MinAreaRatio = md.MinAreaRatio
	}
	if c.Motion.MaxAreaRatio == 0 {
		c.Motion.MaxAreaRatio = md.MaxAreaRatio
	}

	rd := recorder.DefaultConfig()
	if c.Recording.ClipsDir == "" {
		c.Recording.ClipsDir = rd.ClipsDir
	}
	if c.Recording.TempDir == "" {
		c.Recording.TempDir = rd.TempDir
	}
	if c.Recording.OutputFPS == 0 {
		c.Recording.OutputFPS = rd.OutputFPS
	}
	if c.Recording.MaxDuration == 0 {
		c.Recording.MaxDuration = rd.MaxDuration
	}
	if c.Recording.NoMotionThreshold == 0 {
		c.Recording.NoMotionThreshold = rd.NoMotionThreshold
	}
	if c.Recording.Codec == "" {
		c.Recording.Codec = "mp4v"
	}
	if c.Recording.Extension == "" {
		c.Recording.Extension = rd.Extension
	}

	if c.Detection.ServiceURL == "" {
		c.Detection.ServiceURL = "http://localhost:8080"
	}
	if c.Detection.Timeout == 0 {
		c.Detection.Timeout = 30 * time.Second
	}
	if c.Detection.ConfidenceThreshold == 0 {
		c.Detection.ConfidenceThreshold = 0.5
	}

	if c.Notification.SystemName == "" {
		c.Notification.SystemName = "Motion Camera"
	}
	if c.Notification.SMTP.Port == 0 {
		c.Notification.SMTP.Port = 587
	}
	if c.Notification.Gmail.TokenPath == "" {
		c.Notification.Gmail.TokenPath = "token.json"
	}
	rr := notification.DefaultRetryConfig()
	if c.Notification.Retry.MaxAttempts == 0 {
		c.Notification.Retry.MaxAttempts = rr.MaxAttempts
	}
	if c.Notification.Retry.Delay == 0 {
		c.Notification.Retry.Delay = rr.Delay
	}
	if c.Notification.Retry.MaxDelay == 0 {
		c.Notification.Retry.MaxDelay = rr.MaxDelay
	}

	if c.Storage.MinIO.Bucket == "" {
		c.Storage.MinIO.Bucket = "motion-clips"
	}
	if c.Storage.MinIO.ConnectTimeout == 0 {
		c.Storage.MinIO.ConnectTimeout = 30 * time.Second
	}
	if c.Storage.MinIO.MaxRetries == 0 {
		c.Storage.MinIO.MaxRetries = 3
	}
	if c.Storage.Postgres.Port == 0 {
		c.Storage.Postgres.Port = 5432
	}
	if c.Storage.Postgres.SSLMode == "" {
		c.Storage.Postgres.SSLMode = "disable"
	}

	if c.API.Addr == "" {
		c.API.Addr = ":5000"
	}
	if c.API.RateLimit.RequestsPerSecond == 0 {
		c.API.RateLimit.RequestsPerSecond = 5
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 10
	}

	if c.PostProcess.QueueSize == 0 {
		c.PostProcess.QueueSize = 8
	}
	if c.PostProcess.JobTimeout == 0 {
		c.PostProcess.JobTimeout = 2 * time.Minute
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
}

// Validate checks ranges and creates the clip and temp directories.
func (c *Config) Validate() error {
	var errs []error

	if c.Motion.History <= 0 {
		errs = append(errs, fmt.Errorf("motion.history must be positive"))
	}
	if c.Motion.KernelSize <= 0 {
		errs = append(errs, fmt.Errorf("motion.kernel_size must be positive"))
	}
	if c.Motion.MinAreaRatio < 0 || c.Motion.MaxAreaRatio > 1 || c.Motion.MinAreaRatio >= c.Motion.MaxAreaRatio {
		errs = append(errs, fmt.Errorf("motion area ratios must satisfy 0 <= min < max <= 1, got %v and %v",
			c.Motion.MinAreaRatio, c.Motion.MaxAreaRatio))
	}
	for i, z := range c.Motion.ExclusionZones {
		if z.StartX < 0 || z.StartY < 0 || z.EndX < 0 || z.EndY < 0 {
			errs = append(errs, fmt.Errorf("motion.exclusion_zones[%d] has negative coordinates", i))
		}
	}
	if c.Capture.NetworkTimeout < 0 {
		errs = append(errs, fmt.Errorf("capture.network_timeout must not be negative"))
	}
	if c.Recording.OutputFPS <= 0 {
		errs = append(errs, fmt.Errorf("recording.output_fps must be positive"))
	}
	if c.Recording.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("recording.max_duration must be positive"))
	}
	if c.Recording.NoMotionThreshold <= 0 {
		errs = append(errs, fmt.Errorf("recording.no_motion_threshold must be positive"))
	}
	if len(c.Recording.Codec) != 4 {
		errs = append(errs, fmt.Errorf("recording.codec must be a fourcc, got %q", c.Recording.Codec))
	}
	v := &validator{}
	validateNotification(v, c.Notification)
	validateDetection(v, c.Detection)
	validateAPI(v, c.API)
	errs = append(errs, v.errs...)
	if c.Storage.MinIO.Enabled && c.Storage.MinIO.Endpoint == "" {
		errs = append(errs, fmt.Errorf("storage.minio.endpoint is required when enabled"))
	}
	if c.Storage.Postgres.Enabled && (c.Storage.Postgres.Host == "" || c.Storage.Postgres.Database == "") {
		errs = append(errs, fmt.Errorf("storage.postgres requires host and database when enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	for _, dir := range []string{c.Recording.ClipsDir, c.Recording.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) MotionConfig() motion.Config {
	return motion.Config{
		History:      c.Motion.History,
		VarThreshold: c.Motion.VarThreshold,
		KernelSize:   c.Motion.KernelSize,
		MinAreaRatio: c.Motion.MinAreaRatio,
		MaxAreaRatio: c.Motion.MaxAreaRatio,
	}
}

func (c *Config) RecorderConfig() recorder.Config {
	return recorder.Config{
		ClipsDir:          c.Recording.ClipsDir,
		TempDir:           c.Recording.TempDir,
		Extension:         c.Recording.Extension,
		OutputFPS:         c.Recording.OutputFPS,
		MaxDuration:       c.Recording.MaxDuration,
		NoMotionThreshold: c.Recording.NoMotionThreshold,
		MinFreeSpaceMB:    c.Recording.MinFreeSpaceMB,
	}
}

func (c *Config) DetectionConfig() detection.ClientConfig {
	return detection.ClientConfig{
		ServiceURL:          c.Detection.ServiceURL,
		Timeout:             c.Detection.Timeout,
		ConfidenceThreshold: c.Detection.ConfidenceThreshold,
		EnabledClasses:      c.Detection.EnabledClasses,
		OutputDir:           c.Recording.TempDir,
	}
}

func (c *Config) RetryConfig() notification.RetryConfig {
	return notification.RetryConfig{
		MaxAttempts: c.Notification.Retry.MaxAttempts,
		Delay:       c.Notification.Retry.Delay,
		MaxDelay:    c.Notification.Retry.MaxDelay,
	}
}

func (c *Config) SMTPConfig() notification.SMTPConfig {
	s := c.Notification.SMTP
	return notification.SMTPConfig{
		Host:     s.Host,
		Port:     s.Port,
		Username: s.Username,
		Password: s.Password,
		From:     s.From,
		To:       s.To,
	}
}

func (c *Config) GmailConfig() notification.GmailConfig {
	g := c.Notification.Gmail
	return notification.GmailConfig{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		TokenPath:    g.TokenPath,
		FromEmail:    g.From,
		ToEmail:      g.To,
	}
}

// StorageConfigs maps the storage section onto the storage package types.
func (c *Config) StorageConfigs() (storage.MinIOConfig, storage.PostgresConfig) {
	m := c.Storage.MinIO
	p := c.Storage.Postgres
	return storage.MinIOConfig{
			Endpoint:        m.Endpoint,
			AccessKeyID:     m.AccessKeyID,
			SecretAccessKey: m.SecretAccessKey,
			UseSSL:          m.UseSSL,
			Bucket:          m.Bucket,
			Region:          m.Region,
			ConnectTimeout:  m.ConnectTimeout,
			MaxRetries:      m.MaxRetries,
		}, storage.PostgresConfig{
			Host:            p.Host,
			Port:            p.Port,
			Database:        p.Database,
			Username:        p.Username,
			Password:        p.Password,
			SSLMode:         p.SSLMode,
			MaxConnections:  p.MaxConnections,
			MaxIdleConns:    p.MaxIdleConns,
			ConnMaxLifetime: p.ConnMaxLifetime,
		}
}

func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, Output: c.Log.Output}
}
