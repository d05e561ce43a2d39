package certs

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Material holds PEM trust material in memory.
type Material struct {
	ServerCert []byte
	ServerKey  []byte
	ClientCA   []byte
}

// TLSConfig builds the server TLS configuration from the material.
func (m *Material) TLSConfig() (*tls.Config, error) {
	return Load(m.ServerCert, m.ServerKey, m.ClientCA)
}

// Config selects where trust material is read from.
type Config struct {
	// File paths (for local deployments)
	ServerCertPath string
	ServerKeyPath  string
	ClientCAPath   string

	// S3 object keys, used when Bucket is set
	Bucket        string
	ServerCertKey string
	ServerKeyKey  string
	ClientCAKey   string
}

// ObjectGetter is the subset of the S3 client used to fetch trust material.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// LoadMaterial reads trust material from S3 when a bucket is configured, and
// from files otherwise.
func LoadMaterial(ctx context.Context, cfg Config) (*Material, error) {
	if cfg.Bucket != "" {
		awsConfig, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return loadFromS3(ctx, s3.NewFromConfig(awsConfig), cfg)
	}

	return loadFromFiles(cfg)
}

func loadFromS3(ctx context.Context, client ObjectGetter, cfg Config) (*Material, error) {
	m := &Material{}

	for _, item := range []struct {
		kind string
		key  string
		dst  *[]byte
	}{
		{"server certificate", orDefault(cfg.ServerCertKey, ServerCertFile), &m.ServerCert},
		{"server key", orDefault(cfg.ServerKeyKey, ServerKeyFile), &m.ServerKey},
		{"client CA", orDefault(cfg.ClientCAKey, ClientCAFile), &m.ClientCA},
	} {
		data, err := getObject(ctx, client, cfg.Bucket, item.key)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s from s3://%s/%s: %w", item.kind, cfg.Bucket, item.key, err)
		}
		*item.dst = data
	}

	log.Info().Str("bucket", cfg.Bucket).Msg("Loaded trust material from S3")

	return m, nil
}

func getObject(ctx context.Context, client ObjectGetter, bucket, key string) ([]byte, error) {
	output, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = output.Body.Close() }()

	return io.ReadAll(output.Body)
}

func loadFromFiles(cfg Config) (*Material, error) {
	m := &Material{}

	serverCert, err := os.ReadFile(cfg.ServerCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read server cert: %w", err)
	}
	m.ServerCert = serverCert

	serverKey, err := os.ReadFile(cfg.ServerKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read server key: %w", err)
	}
	m.ServerKey = serverKey

	clientCA, err := os.ReadFile(cfg.ClientCAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read client CA: %w", err)
	}
	m.ClientCA = clientCA

	log.Info().
		Str("cert", cfg.ServerCertPath).
		Str("key", cfg.ServerKeyPath).
		Str("client_ca", cfg.ClientCAPath).
		Msg("Loaded trust material from files")

	return m, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
