package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"agentprobe_api/internal/auth"
	"agentprobe_api/internal/clock"
	"agentprobe_api/internal/storage"
	"agentprobe_api/internal/utils"
)

// Download is a stored export served by LocalStore.
type Download struct {
	Name        string
	ContentType string
	Content     []byte
	ExpiresAt   time.Time
}

// LocalStore keeps exports in an in-process LRU and links to them with
// signed tokens appended to basePath.
type LocalStore struct {
	cache    *storage.LRUCache[*Download]
	secret   []byte
	ttl      time.Duration
	basePath string
	clock    clock.Clock
}

func NewLocalStore(capacity int, ttl time.Duration, secret []byte, basePath string, clk clock.Clock) *LocalStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &LocalStore{
		cache:    storage.NewLRUCache[*Download](capacity, ttl),
		secret:   secret,
		ttl:      ttl,
		basePath: basePath,
		clock:    clk,
	}
}

func (s *LocalStore) Put(_ context.Context, name, contentType string, content []byte) (string, time.Time, error) {
	id := uuid.NewString()
	expiresAt := s.clock.Now().Add(s.ttl)

	token, err := auth.GenerateDownloadToken(id, expiresAt, s.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	s.cache.Set(id, &Download{
		Name:        name,
		ContentType: contentType,
		Content:     content,
		ExpiresAt:   expiresAt,
	})
	return s.basePath + token, expiresAt, nil
}

// Open returns the export a token names. Invalid tokens, evicted entries
// and expired links all yield ErrExportNotFound.
func (s *LocalStore) Open(token string) (*Download, error) {
	id, err := auth.ValidateDownloadToken(token, s.secret)
	if err != nil {
		return nil, ErrExportNotFound
	}
	d, ok := s.cache.Get(id)
	if !ok || s.clock.Now().After(d.ExpiresAt) {
		return nil, ErrExportNotFound
	}
	return d, nil
}

// CleanupExpired drops expired exports and returns how many were removed.
func (s *LocalStore) CleanupExpired() int {
	return s.cache.CleanupExpired()
}

// S3Store uploads exports to a bucket and links to them with presigned GET URLs.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	ttl     time.Duration
	clock   clock.Clock
	logger  *utils.Logger
}

// NewS3Store builds a store from the default AWS credential chain.
func NewS3Store(ctx context.Context, bucket, region, prefix string, ttl time.Duration) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3StoreFromClient(s3.NewFromConfig(cfg), bucket, prefix, ttl, nil), nil
}

func NewS3StoreFromClient(client *s3.Client, bucket, prefix string, ttl time.Duration, clk clock.Clock) *S3Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		prefix:  prefix,
		ttl:     ttl,
		clock:   clk,
		logger:  utils.NewLogger("s3-export"),
	}
}

// Put uploads content under prefix/YYYY/MM/DD/name.
func (s *S3Store) Put(ctx context.Context, name, contentType string, content []byte) (string, time.Time, error) {
	now := s.clock.Now()
	key := fmt.Sprintf("%s%04d/%02d/%02d/%s", s.prefix, now.Year(), now.Month(), now.Day(), name)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(content),
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", name)),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to upload to S3: %w", err)
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign download: %w", err)
	}

	s.logger.Info("Wrote export to S3", "key", key, "bytes", len(content))
	return req.URL, now.Add(s.ttl), nil
}
