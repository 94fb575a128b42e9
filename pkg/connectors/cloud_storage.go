package connectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/evidify/evidify-cli/config"
	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// maxCloudObjectBytes caps how much of a single object is downloaded.
// Larger objects are recorded with metadata only.
const maxCloudObjectBytes = 256 << 20

// cloudObjectAPI is the slice of the S3 client the connector uses.
type cloudObjectAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// CloudStorageConnector collects loose files from an S3 bucket. Each object
// becomes one document whose single attachment carries the object payload and
// its SHA-256 checksum; the object's ETag and last-modified time are preserved
// in metadata for later integrity review.
type CloudStorageConnector struct {
	name       string
	bucket     string
	prefix     string
	custodian  evidence.Custodian
	maxObjects int
	extensions map[string]bool

	client cloudObjectAPI
	log    logging.Logger
}

// NewCloudStorageConnector builds an S3-backed connector.
//
// Params:
//   - bucket: source bucket name (required)
//   - prefix: key prefix to scan (optional)
//   - region: AWS region (optional, falls back to the ambient AWS config)
//   - custodian_id, custodian_email: custodian the share belongs to (required)
//   - max_objects: cap on collected objects (default: unlimited)
//   - extensions: collect only objects with these extensions (optional)
func NewCloudStorageConnector(cfg config.ConnectorConfig, log logging.Logger) (SourceConnector, error) {
	bucket := cfg.Params.String("bucket")
	custodianID := cfg.Params.String("custodian_id")
	if bucket == "" || custodianID == "" {
		return nil, fmt.Errorf(
			"%w: connector %q requires bucket and custodian_id params",
			apperrors.ErrConfig, cfg.Name)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := cfg.Params.String("region"); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading AWS configuration: %v", apperrors.ErrConfig, err)
	}

	extensions := make(map[string]bool)
	for _, ext := range cfg.Params.StringSlice("extensions") {
		extensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	return &CloudStorageConnector{
		name:   cfg.Name,
		bucket: bucket,
		prefix: cfg.Params.String("prefix"),
		custodian: evidence.Custodian{
			Identifier: custodianID,
			Email:      cfg.Params.String("custodian_email"),
		},
		maxObjects: cfg.Params.Int("max_objects", 0),
		extensions: extensions,
		client:     s3.NewFromConfig(awsCfg),
		log:        log,
	}, nil
}

// Name returns the connector instance name.
func (c *CloudStorageConnector) Name() string { return c.name }

// Fetch lists the bucket prefix and downloads each matching object.
func (c *CloudStorageConnector) Fetch(ctx context.Context) ([]*evidence.Document, error) {
	c.log.Info("scanning cloud storage",
		logging.F("connector", c.name),
		logging.F("bucket", c.bucket),
		logging.F("prefix", c.prefix))

	var documents []*evidence.Document

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: &c.bucket,
		Prefix: &c.prefix,
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return documents, fmt.Errorf("%w: listing bucket %s: %v", apperrors.ErrStorage, c.bucket, err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			if !c.wantExtension(*obj.Key) {
				continue
			}

			doc, err := c.collectObject(ctx, *obj.Key)
			if err != nil {
				c.log.Error("failed to collect object",
					logging.F("key", *obj.Key),
					logging.Err(err))
				continue
			}
			documents = append(documents, doc)

			if c.maxObjects > 0 && len(documents) >= c.maxObjects {
				c.log.Info("reached object cap", logging.F("max_objects", c.maxObjects))
				return documents, nil
			}
		}
	}

	c.log.Info("cloud storage scan complete",
		logging.F("connector", c.name),
		logging.F("documents", len(documents)))
	return documents, nil
}

func (c *CloudStorageConnector) wantExtension(key string) bool {
	if len(c.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(key), "."))
	return c.extensions[ext]
}

func (c *CloudStorageConnector) collectObject(ctx context.Context, key string) (*evidence.Document, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetching s3://%s/%s: %v", apperrors.ErrStorage, c.bucket, key, err)
	}
	defer out.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(out.Body, maxCloudObjectBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading s3://%s/%s: %v", apperrors.ErrStorage, c.bucket, key, err)
	}

	checksum := sha256.Sum256(payload)
	filename := path.Base(key)

	collectedAt := time.Now().UTC()
	if out.LastModified != nil {
		collectedAt = out.LastModified.UTC()
	}

	doc := evidence.NewDocument(
		fmt.Sprintf("%s-%s", c.name, hex.EncodeToString(checksum[:8])),
		c.name,
		collectedAt,
		c.custodian,
	)
	doc.Subject = filename
	doc.SetMetadata("object_type", "file")
	doc.SetMetadata("bucket", c.bucket)
	doc.SetMetadata("key", key)
	if out.ETag != nil {
		doc.SetMetadata("etag", strings.Trim(*out.ETag, `"`))
	}
	if out.LastModified != nil {
		doc.SetMetadata("last_modified", out.LastModified.UTC().Format(time.RFC3339))
	}
	if out.ContentType != nil {
		doc.SetMetadata("content_type", *out.ContentType)
	}

	contentType := "application/octet-stream"
	if out.ContentType != nil && *out.ContentType != "" {
		contentType = *out.ContentType
	}

	doc.Attachments = []evidence.Attachment{
		{
			Filename:       filename,
			ContentType:    contentType,
			SizeBytes:      int64(len(payload)),
			Payload:        payload,
			ChecksumSHA256: hex.EncodeToString(checksum[:]),
		},
	}

	doc.AddCustodyEvent(c.name, evidence.ActionCollected, map[string]string{
		"bucket": c.bucket,
		"key":    key,
	})

	return doc, nil
}
