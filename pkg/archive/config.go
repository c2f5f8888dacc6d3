package archive

// Config selects the bucket that receives expired notifications. An empty
// bucket disables archiving.
type Config struct {
	Bucket         string `env:"ARCHIVE_S3_BUCKET"`
	Region         string `env:"ARCHIVE_S3_REGION" envDefault:"us-east-1"`
	Prefix         string `env:"ARCHIVE_S3_PREFIX" envDefault:"notifications"`
	Endpoint       string `env:"ARCHIVE_S3_ENDPOINT"`
	AccessKeyID    string `env:"ARCHIVE_S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"ARCHIVE_S3_SECRET_KEY"`
	ForcePathStyle bool   `env:"ARCHIVE_S3_FORCE_PATH_STYLE" envDefault:"false"`
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}
