package config

// StorageConfig holds configuration for the history archive destination.
type StorageConfig struct {
	Type            string `yaml:"type"`             // Type of storage ("local" or "gcs").
	BucketName      string `yaml:"bucket_name"`      // Bucket for gcs.
	CredentialsFile string `yaml:"credentials_file"` // Service account key for gcs. Empty uses application default credentials.
	BaseDir         string `yaml:"base_dir"`         // Base directory for local file system writes.
}
