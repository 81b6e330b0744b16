package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	RunnerLocal     = "local"
	RunnerJetStream = "jetstream"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`

	BaseDir      string `yaml:"base_dir"`
	StagingDir   string `yaml:"staging_dir"`
	ArchiveDir   string `yaml:"archive_dir"`
	TemplatePath string `yaml:"template_path"`

	TaskTTL             time.Duration `yaml:"task_ttl"`
	TaskCleanupInterval time.Duration `yaml:"task_cleanup_interval"`

	Converter Converter `yaml:"converter"`
	Runner    Runner    `yaml:"runner"`

	Admin    Admin    `yaml:"admin"`
	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	MinIO    MinIO    `yaml:"minio"`
	NATS     NATS     `yaml:"nats"`
}

type Converter struct {
	Binary       string        `yaml:"binary"`
	Format       string        `yaml:"format"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	Workers      int           `yaml:"workers"`
}

type Runner struct {
	Mode          string        `yaml:"mode"`
	Workers       int           `yaml:"workers"`
	QueueCapacity int           `yaml:"queue_capacity"`
	AckWait       time.Duration `yaml:"ack_wait"`
}

type Admin struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type Database struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	QueueCapacity   int    `yaml:"queue_capacity"`
	Workers         int    `yaml:"workers"`
	MaxRetries      int    `yaml:"max_retries"`
}

// Enabled reports whether archives are replicated to MinIO.
func (m MinIO) Enabled() bool {
	return m.Endpoint != ""
}

type NATS struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	MaxReconnects int    `yaml:"max_reconnects"`
	SubjectPrefix string `yaml:"subject_prefix"`
	JobSubject    string `yaml:"job_subject"`
	Stream        string `yaml:"stream"`
	Durable       string `yaml:"durable"`
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal yaml: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = "archives"
	}
	if cfg.TaskTTL <= 0 {
		cfg.TaskTTL = time.Hour
	}
	if cfg.TaskCleanupInterval <= 0 {
		cfg.TaskCleanupInterval = 5 * time.Minute
	}

	c := &cfg.Converter
	if c.Binary == "" {
		c.Binary = "libreoffice"
	}
	if c.Format == "" {
		c.Format = "pdf"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 100
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}

	r := &cfg.Runner
	if r.Mode == "" {
		r.Mode = RunnerLocal
	}
	if r.Workers <= 0 {
		r.Workers = 2
	}
	if r.QueueCapacity <= 0 {
		r.QueueCapacity = 16
	}
	if r.AckWait <= 0 {
		r.AckWait = 30 * time.Minute
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}

	m := &cfg.MinIO
	if m.QueueCapacity <= 0 {
		m.QueueCapacity = 64
	}
	if m.Workers <= 0 {
		m.Workers = 2
	}
	if m.MaxRetries <= 0 {
		m.MaxRetries = 3
	}

	n := &cfg.NATS
	if n.Name == "" {
		n.Name = "degreegen"
	}
	if n.SubjectPrefix == "" {
		n.SubjectPrefix = "degrees.progress"
	}
	if n.JobSubject == "" {
		n.JobSubject = "degrees.jobs"
	}
	if n.Stream == "" {
		n.Stream = "DEGREE_GENERATION"
	}
	if n.Durable == "" {
		n.Durable = "degree-generation-workers"
	}
}

func (cfg *Config) validate() error {
	var errs []error
	if cfg.Addr == "" {
		errs = append(errs, errors.New("addr is empty"))
	}
	if cfg.BaseDir == "" {
		errs = append(errs, errors.New("base_dir is empty"))
	}
	if cfg.StagingDir == "" {
		errs = append(errs, errors.New("staging_dir is empty"))
	}
	if cfg.TemplatePath == "" {
		errs = append(errs, errors.New("template_path is empty"))
	}
	if cfg.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is empty"))
	}
	if cfg.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is empty"))
	}
	if cfg.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is empty"))
	}
	if cfg.Admin.User == "" || cfg.Admin.Password == "" {
		errs = append(errs, errors.New("admin.user and admin.password are required"))
	}
	switch cfg.Runner.Mode {
	case RunnerLocal, RunnerJetStream:
	default:
		errs = append(errs, fmt.Errorf("runner.mode must be %q or %q, got %q", RunnerLocal, RunnerJetStream, cfg.Runner.Mode))
	}
	if cfg.MinIO.Enabled() && cfg.MinIO.Bucket == "" {
		errs = append(errs, errors.New("minio.bucket is empty"))
	}
	return errors.Join(errs...)
}
