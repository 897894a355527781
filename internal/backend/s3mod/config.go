package s3mod

import "time"

// Config configures the S3-backed module: which bucket it serves and how
// its AWS SDK client pool behaves. Trimmed from the teacher's
// internal/storage/s3.Config down to the knobs an S3-as-a-backend-module
// actually needs — the cost-optimization, tiering, and CargoShip transfer
// acceleration fields there belong to a standalone object-store client,
// not a VFS backend module.
type Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	MaxRetries     int           `yaml:"max_retries"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PoolSize       int           `yaml:"pool_size"`
}

// NewDefaultConfig returns a Config with the same baseline values the
// teacher's S3 backend ships.
func NewDefaultConfig() *Config {
	return &Config{
		MaxRetries:     3,
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
		PoolSize:       8,
	}
}
