// internal/storage/minio_store.go
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type ImageStore interface {
	SaveSnapshot(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// Enabled indica se há credenciais; sem elas o snapshot remoto fica desligado.
func (c Config) Enabled() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL *url.URL
	useSSL  bool
	log     *zap.SugaredLogger
}

// NewMinioStore cria o cliente e garante o bucket.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	s, err := newMinioStore(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Cria bucket se não existir
	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := s.client.BucketExists(ctx, s.bucket)
		if errBucketExists != nil || !exists {
			return nil, fmt.Errorf("erro criando/verificando bucket %s: %w", s.bucket, err)
		}
	}

	s.log.Infof("conectado ao endpoint %s, bucket=%s", cfg.Endpoint, s.bucket)
	return s, nil
}

func newMinioStore(cfg Config) (*MinioStore, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY / MINIO_SECRET_KEY não configurados")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "cam-voice-snapshots"
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("erro criando cliente MinIO: %w", err)
	}

	var u *url.URL
	if cfg.PublicBaseURL != "" {
		u, err = url.Parse(cfg.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("MINIO_PUBLIC_BASE_URL inválida: %w", err)
		}
	}

	return &MinioStore{
		client:  cli,
		bucket:  cfg.Bucket,
		baseURL: u,
		useSSL:  cfg.UseSSL,
		log:     zap.L().Named("minio").Sugar(),
	}, nil
}

func (s *MinioStore) SaveSnapshot(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}

	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: contentType,
		},
	)
	if err != nil {
		return "", fmt.Errorf("erro ao enviar objeto pro MinIO: %w", err)
	}

	s.log.Debugf("snapshot %s (%d bytes) enviado", key, len(data))
	return s.objectURL(key), nil
}

func (s *MinioStore) objectURL(key string) string {
	// Se for configurado um baseURL público, usamos ele
	if s.baseURL != nil {
		u := *s.baseURL
		if u.Path == "" || u.Path == "/" {
			u.Path = "/" + key
		} else {
			u.Path = strings.TrimSuffix(u.Path, "/") + "/" + key
		}
		return u.String()
	}

	// Fallback: URL bruta do endpoint S3
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.client.EndpointURL().Host, s.bucket, key)
}

// SnapshotKey monta a chave do objeto: <camera>/<data>/<hora>_<id>.jpg
func SnapshotKey(camera string, at time.Time, id string) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%s/%s_%s.jpg", camera, at.Format("2006-01-02"), at.Format("150405.000"), id)
}
