// Package s3 exposes an S3 bucket as a vfs.ObjectStore.
//
// Reads are served from an LRU cache when warm; every bucket
// round-trip runs under a retry policy and, when configured, a
// circuit breaker. Missing keys come back wrapping fs.ErrNotExist so
// the errno layer maps them to ENOENT.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fusekit/fusekit/internal/cache"
	"github.com/fusekit/fusekit/internal/circuit"
	"github.com/fusekit/fusekit/internal/retry"
	"github.com/fusekit/fusekit/pkg/logging"
	"github.com/fusekit/fusekit/pkg/vfs"
)

// Config configures a Store. Bucket is required; zero values elsewhere
// are workable.
type Config struct {
	Bucket string

	// Prefix namespaces every key inside the bucket. When set it must
	// end with "/"; listed keys come back with it stripped.
	Prefix string

	Region    string
	Endpoint  string
	Profile   string
	Anonymous bool
	PathStyle bool

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// Cache holds object bodies between reads. Nil leaves reads
	// uncached.
	Cache *cache.Config

	// Retry shapes the per-call backoff. The zero value takes the
	// retry package defaults.
	Retry retry.Config

	// Breaker guards the bucket against repeated failure. Nil runs
	// without one.
	Breaker *circuit.Config

	Logger *logging.Logger
}

// Stats counts store traffic since construction.
type Stats struct {
	Requests        int64     `json:"requests"`
	Errors          int64     `json:"errors"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	BytesUploaded   int64     `json:"bytes_uploaded"`
	LastError       string    `json:"last_error,omitempty"`
	LastErrorTime   time.Time `json:"last_error_time"`
}

// Store is a vfs.ObjectStore backed by one S3 bucket.
type Store struct {
	api     api
	bucket  string
	prefix  string
	cache   *cache.LRU
	retry   *retry.Retryer
	breaker *circuit.Breaker
	log     *logging.Logger

	mu    sync.Mutex
	stats Stats
}

var _ vfs.ObjectStore = (*Store)(nil)

// New connects to the configured bucket and verifies it is reachable.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket name required")
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("s3: bucket %q not reachable: %w", cfg.Bucket, err)
	}

	s := newStore(client, cfg)
	s.log.Info("object store ready", map[string]interface{}{
		"bucket":  cfg.Bucket,
		"prefix":  cfg.Prefix,
		"cache":   cfg.Cache != nil,
		"breaker": cfg.Breaker != nil,
	})
	return s, nil
}

// newStore wires the cache, retry, and breaker layers around client.
func newStore(client api, cfg Config) *Store {
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	log = log.WithComponent("s3")

	s := &Store{
		api:    client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log,
	}
	if cfg.Cache != nil {
		s.cache = cache.NewLRU(cfg.Cache)
	}

	rc := cfg.Retry
	if rc.Retryable == nil {
		rc.Retryable = retryable
	}
	if rc.OnRetry == nil {
		rc.OnRetry = func(attempt int, err error, delay time.Duration) {
			log.Debug("retrying bucket call", map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   err.Error(),
			})
		}
	}
	s.retry = retry.New(rc)

	if cfg.Breaker != nil {
		bc := *cfg.Breaker
		if bc.IsSuccessful == nil {
			// A missing key is an answer, not an outage.
			bc.IsSuccessful = func(err error) bool {
				return err == nil || errors.Is(err, fs.ErrNotExist)
			}
		}
		if bc.OnStateChange == nil {
			bc.OnStateChange = func(name string, from, to circuit.State) {
				log.Warn("breaker state change", map[string]interface{}{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			}
		}
		s.breaker = circuit.NewBreaker("s3/"+cfg.Bucket, bc)
	}
	return s
}

// Get fetches the object body for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	k := s.objectKey(key)
	if s.cache != nil {
		if data, ok := s.cache.Get(k); ok {
			return data, nil
		}
	}

	var data []byte
	err := s.call(ctx, func(ctx context.Context) error {
		out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(k),
		})
		if err != nil {
			return translate(err, "get", k)
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		if err != nil {
			return fmt.Errorf("s3: read body of %q: %w", k, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.addDownloaded(int64(len(data)))
	if s.cache != nil {
		s.cache.Put(k, data)
	}
	return data, nil
}

// Put stores data under key and refreshes the cache entry.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	k := s.objectKey(key)
	err := s.call(ctx, func(ctx context.Context) error {
		_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(k),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(contentType(k)),
		})
		if err != nil {
			return translate(err, "put", k)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.addUploaded(int64(len(data)))
	if s.cache != nil {
		s.cache.Put(k, data)
	}
	return nil
}

// Delete removes key. Deleting an absent key succeeds, matching S3.
func (s *Store) Delete(ctx context.Context, key string) error {
	k := s.objectKey(key)
	err := s.call(ctx, func(ctx context.Context) error {
		_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(k),
		})
		if err != nil {
			return translate(err, "delete", k)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.Delete(k)
	}
	return nil
}

// List returns every object under prefix, keys relative to the store
// prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]vfs.ObjectInfo, error) {
	full := s.objectKey(prefix)

	var infos []vfs.ObjectInfo
	err := s.call(ctx, func(ctx context.Context) error {
		infos = infos[:0]
		pager := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(full),
		})
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return translate(err, "list", full)
			}
			for _, obj := range page.Contents {
				infos = append(infos, vfs.ObjectInfo{
					Key:     strings.TrimPrefix(aws.ToString(obj.Key), s.prefix),
					Size:    aws.ToInt64(obj.Size),
					ModTime: aws.ToTime(obj.LastModified),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// HealthCheck reports breaker state and bucket reachability.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.breaker != nil {
		if err := s.breaker.Healthy(); err != nil {
			return err
		}
	}
	if _, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return fmt.Errorf("s3: head bucket %q: %w", s.bucket, err)
	}
	return nil
}

// Stats returns a snapshot of the traffic counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// CacheStats returns the read cache counters, zero when the cache is
// disabled.
func (s *Store) CacheStats() cache.Stats {
	if s.cache == nil {
		return cache.Stats{}
	}
	return s.cache.Stats()
}

// Close drops the cache. The underlying HTTP client needs no teardown.
func (s *Store) Close() error {
	if s.cache != nil {
		s.cache.Clear()
	}
	return nil
}

// call runs fn under the retry policy, gated by the breaker when one
// is configured.
func (s *Store) call(ctx context.Context, fn func(context.Context) error) error {
	do := func(ctx context.Context) error { return s.retry.Do(ctx, fn) }

	var err error
	if s.breaker != nil {
		err = s.breaker.Do(ctx, do)
	} else {
		err = do(ctx)
	}
	s.record(err)
	return err
}

func (s *Store) objectKey(key string) string { return s.prefix + key }

// record tallies the call. Missing keys are answers, not failures.
func (s *Store) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Requests++
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}
	s.stats.Errors++
	s.stats.LastError = err.Error()
	s.stats.LastErrorTime = time.Now()
}

func (s *Store) addDownloaded(n int64) {
	s.mu.Lock()
	s.stats.BytesDownloaded += n
	s.mu.Unlock()
}

func (s *Store) addUploaded(n int64) {
	s.mu.Lock()
	s.stats.BytesUploaded += n
	s.mu.Unlock()
}

// translate rewrites SDK errors into the store's error vocabulary.
func translate(err error, op, key string) error {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return fmt.Errorf("s3: %s %q: %w", op, key, fs.ErrNotExist)
	}
	var noBucket *s3types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return fmt.Errorf("s3: %s %q: bucket does not exist: %w", op, key, err)
	}
	return fmt.Errorf("s3: %s %q: %w", op, key, err)
}

// retryable refuses another attempt for definitive answers: canceled
// contexts, missing keys, missing buckets.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, fs.ErrNotExist):
		return false
	}
	var noBucket *s3types.NoSuchBucket
	return !errors.As(err, &noBucket)
}

// contentType guesses from the key's extension, defaulting to an
// opaque octet stream.
func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
