package geoip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Downloader fetches the dataset from a remote location
type Downloader interface {
	Download(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads the dataset from Path, downloading it there first if the file is missing
type FileSource struct {
	Path     string
	Download Downloader
	Logger   *slog.Logger
}

func (s *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) || s.Download == nil {
		return nil, fmt.Errorf("open ip dataset: %w", err)
	}

	s.Logger.Info("downloading ip location dataset", slog.String("path", s.Path))
	if err := s.fetch(ctx); err != nil {
		return nil, err
	}
	return os.Open(s.Path)
}

// fetch writes to a temp file and renames it so readers never see a partial file
func (s *FileSource) fetch(ctx context.Context) error {
	body, err := s.Download.Download(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ip_to_loc-*")
	if err != nil {
		return fmt.Errorf("create dataset file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("write dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	return os.Rename(tmp.Name(), s.Path)
}

// HTTPDownloader fetches the dataset over HTTP(S)
type HTTPDownloader struct {
	URL    string
	Client *http.Client
}

func (d *HTTPDownloader) Download(ctx context.Context) (io.ReadCloser, error) {
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build dataset request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download dataset: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download dataset: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// S3API is the subset of the S3 client used to fetch the dataset
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Downloader fetches the dataset from an S3 object
type S3Downloader struct {
	Client S3API
	Bucket string
	Key    string
}

func (d *S3Downloader) Download(ctx context.Context) (io.ReadCloser, error) {
	out, err := d.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(d.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", d.Bucket, d.Key, err)
	}
	return out.Body, nil
}

// NewDownloader picks a downloader for rawURL: s3://bucket/key or http(s)://...
// An empty URL yields nil, meaning the local file must exist.
func NewDownloader(ctx context.Context, rawURL, region string) (Downloader, error) {
	if rawURL == "" {
		return nil, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse dataset url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return &HTTPDownloader{URL: rawURL}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("dataset url %q must be s3://bucket/key", rawURL)
		}
		opts := []func(*config.LoadOptions) error{}
		if region != "" {
			opts = append(opts, config.WithRegion(region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return &S3Downloader{Client: s3.NewFromConfig(cfg), Bucket: u.Host, Key: key}, nil
	default:
		return nil, fmt.Errorf("unsupported dataset url scheme %q", u.Scheme)
	}
}
