// Пакет s3store — объектное хранилище в S3-совместимом бакете
// (AWS S3, MinIO, Supabase Storage S3 API) через aws-sdk-go-v2.
package s3store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bigkaa/flashdrop/internal/storage"
)

// Config — параметры подключения к бакету.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
	// PublicURL — базовый публичный адрес объектов бакета
	PublicURL string
}

// API — используемое подмножество *s3.Client.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store — реализация storage.ObjectStore поверх S3 API.
type S3Store struct {
	client    API
	bucket    string
	publicURL string
}

var _ storage.ObjectStore = (*S3Store)(nil)

// New создаёт клиент S3 по конфигурации. Без статических ключей
// используется стандартная цепочка провайдеров AWS (env, профиль, IRSA).
func New(ctx context.Context, cfg Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return NewWithClient(client, cfg.Bucket, cfg.PublicURL), nil
}

// NewWithClient создаёт хранилище с готовым клиентом (для тестов).
func NewWithClient(client API, bucket, publicURL string) *S3Store {
	return &S3Store{client: client, bucket: bucket, publicURL: publicURL}
}

// Put буферизует поток в памяти: S3 API требует известной длины и
// перечитываемого тела для подписи запроса.
func (s *S3Store) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (*storage.PutResult, error) {
	if !storage.ValidName(name) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}

	src := r
	var buf bytes.Buffer
	if size >= 0 {
		src = io.LimitReader(r, size+1)
		buf.Grow(int(size))
	}
	hasher := sha256.New()
	n, err := io.Copy(&buf, io.TeeReader(src, hasher))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения данных: %w", err)
	}
	if size >= 0 && n != size {
		return nil, fmt.Errorf("%w: заявлено %d, получено %d", storage.ErrSizeMismatch, size, n)
	}
	checksum := hex.EncodeToString(hasher.Sum(nil))

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(name),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(n),
		Metadata:      map[string]string{"sha256": checksum},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("ошибка загрузки объекта %s в бакет %s: %w", name, s.bucket, err)
	}

	return &storage.PutResult{URL: s.URL(name), Size: n, Checksum: checksum}, nil
}

// Remove удаляет объект. DeleteObject в S3 идемпотентен; NoSuchKey
// от несовместимых реализаций тоже считается успехом.
func (s *S3Store) Remove(ctx context.Context, name string) error {
	if !storage.ValidName(name) {
		return fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("ошибка удаления объекта %s: %w", name, err)
	}
	return nil
}

// Open читает объект из бакета.
func (s *S3Store) Open(ctx context.Context, name string) (io.ReadCloser, *storage.ObjectInfo, error) {
	if !storage.ValidName(name) {
		return nil, nil, storage.ErrObjectNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, storage.ErrObjectNotFound
		}
		return nil, nil, fmt.Errorf("ошибка чтения объекта %s: %w", name, err)
	}

	info := &storage.ObjectInfo{
		Name:        name,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}
	if out.LastModified != nil {
		info.ModTime = *out.LastModified
	}
	return out.Body, info, nil
}

// URL — PublicURL/{name}.
func (s *S3Store) URL(name string) string {
	return s.publicURL + "/" + name
}

// Check проверяет доступность бакета.
func (s *S3Store) Check(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("бакет %s недоступен: %w", s.bucket, err)
	}
	return nil
}

// isNotFound распознаёт отсутствие объекта в ответах S3.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
