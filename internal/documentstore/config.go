package documentstore

// Supported backends.
const (
	BackendLocal = "local"
	BackendAzure = "azure"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
)

// Config selects and configures the upload backend. Container names the
// Azure container, S3 bucket or GCS bucket.
type Config struct {
	Backend   string
	Folder    string
	LocalRoot string
	BaseURL   string
	Container string

	AzureConnectionString string

	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	GCSCredentialsFile string
}

func DefaultConfig() Config {
	return Config{
		Backend:   BackendLocal,
		Folder:    "Consultas",
		LocalRoot: "uploads",
		Container: "consultas",
		S3Region:  "us-east-1",
	}
}
