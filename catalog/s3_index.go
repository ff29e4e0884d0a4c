package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"
)

// S3Options configures an S3 compatible object store.
type S3Options struct {
	Region    string
	Endpoint  string
	KeyID     string
	Secret    string
	PathStyle bool
}

// NewS3Client builds a client with static credentials. An empty endpoint uses AWS.
func NewS3Client(opts S3Options) *s3.Client {
	o := s3.Options{
		Region:       opts.Region,
		UsePathStyle: opts.PathStyle,
	}
	if opts.KeyID != "" {
		o.Credentials = credentials.NewStaticCredentialsProvider(opts.KeyID, opts.Secret, "")
	}
	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		o.BaseEndpoint = aws.String(endpoint)
	}
	return s3.New(o)
}

// S3Index resolves partitions stored under s3://bucket/prefix roots. A
// partition exists when at least one parquet object lives under its prefix.
type S3Index struct {
	client      s3.ListObjectsV2APIClient
	Parallelism int
}

func NewS3Index(client s3.ListObjectsV2APIClient) *S3Index {
	return &S3Index{client: client, Parallelism: 8}
}

func (x *S3Index) Name() string { return "s3" }

func (x *S3Index) Partitions(ctx context.Context, dataset string, candidates []string) ([]PartitionEntry, error) {
	found := make([]bool, len(candidates))

	g, ctx := errgroup.WithContext(ctx)
	if x.Parallelism > 0 {
		g.SetLimit(x.Parallelism)
	}
	for i, path := range candidates {
		g.Go(func() error {
			ok, err := x.exists(ctx, path)
			if err != nil {
				return fmt.Errorf("list %s: %w", path, err)
			}
			found[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := make([]PartitionEntry, 0, len(candidates))
	for i, path := range candidates {
		if found[i] {
			res = append(res, PartitionEntry{Path: path, RowCount: -1})
		}
	}
	return res, nil
}

func (x *S3Index) exists(ctx context.Context, path string) (bool, error) {
	bucket, key, err := ParseS3Path(path)
	if err != nil {
		return false, err
	}
	prefix := key
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	p := s3.NewListObjectsV2Paginator(x.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return false, err
		}
		for _, obj := range page.Contents {
			if strings.HasSuffix(aws.ToString(obj.Key), ".parquet") {
				return true, nil
			}
		}
	}
	return false, nil
}

// ParseS3Path extracts bucket and key from an "s3://bucket/path/to/file" URI.
// The key may be empty for a bucket root.
func ParseS3Path(s3Path string) (bucket, key string, err error) {
	u, err := url.Parse(s3Path)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 path %q: %w", s3Path, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, s3Path)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("empty bucket in S3 path %q", s3Path)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}
