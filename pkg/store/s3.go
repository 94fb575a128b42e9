package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/evidify/evidify-cli/config"
	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

const (
	// Objects at or below this size use a single PUT.
	multipartThreshold = 5 << 20

	// Part size for multipart uploads.
	multipartPartSize = 8 << 20

	maxSubjectMetadataLen = 200
)

// uploadRetryBaseInterval is a variable so tests can shrink the backoff.
var uploadRetryBaseInterval = time.Second

// s3BucketAPI is the slice of the S3 client the store uses. Narrowed so tests
// can substitute a recording fake.
type s3BucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketVersioning(ctx context.Context, params *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	PutBucketEncryption(ctx context.Context, params *s3.PutBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error)
	PutPublicAccessBlock(ctx context.Context, params *s3.PutPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Store persists evidence to a per-tenant S3 bucket named
// {bucket_prefix}-{tenant_id}. The bucket is provisioned on first use:
// versioning enabled, server-side encryption per the security configuration,
// and all public access blocked. Object layout mirrors the filesystem store.
type S3Store struct {
	client   s3BucketAPI
	bucket   string
	tenantID string
	region   string
	security config.SecurityConfig
	log      logging.Logger

	provisioned bool
}

// NewS3Store builds the store and provisions its bucket.
//
// Params: bucket_prefix (required), tenant_id (required), region (optional).
func NewS3Store(ctx context.Context, cfg config.StorageTargetConfig, sec config.SecurityConfig, log logging.Logger) (*S3Store, error) {
	prefix := cfg.Params.String("bucket_prefix")
	tenantID := cfg.Params.String("tenant_id")
	if prefix == "" || tenantID == "" {
		return nil, fmt.Errorf("%w: s3 store requires bucket_prefix and tenant_id params", apperrors.ErrConfig)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	region := cfg.Params.String("region")
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading AWS configuration: %v", apperrors.ErrConfig, err)
	}
	if region == "" {
		region = awsCfg.Region
	}

	store := &S3Store{
		client:   s3.NewFromConfig(awsCfg),
		bucket:   fmt.Sprintf("%s-%s", prefix, tenantID),
		tenantID: tenantID,
		region:   region,
		security: sec,
		log:      log,
	}
	if err := store.provision(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Name implements ObjectStore.
func (s *S3Store) Name() string { return "s3" }

// provision creates the tenant bucket if missing and applies versioning,
// encryption, and public-access controls. Idempotent.
func (s *S3Store) provision(ctx context.Context) error {
	if s.provisioned {
		return nil
	}

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &s.bucket})
	if err != nil {
		input := &s3.CreateBucketInput{Bucket: &s.bucket}
		// us-east-1 rejects an explicit location constraint.
		if s.region != "" && s.region != "us-east-1" {
			input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
				LocationConstraint: s3types.BucketLocationConstraint(s.region),
			}
		}
		if _, err := s.client.CreateBucket(ctx, input); err != nil {
			var owned *s3types.BucketAlreadyOwnedByYou
			if !errors.As(err, &owned) {
				return fmt.Errorf("%w: creating bucket %s: %v", apperrors.ErrStorage, s.bucket, err)
			}
		}
		s.log.Info("created evidence bucket", logging.F("bucket", s.bucket))
	}

	if _, err := s.client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: &s.bucket,
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: s3types.BucketVersioningStatusEnabled,
		},
	}); err != nil {
		return fmt.Errorf("%w: enabling versioning on %s: %v", apperrors.ErrStorage, s.bucket, err)
	}

	if s.security.EnvelopeEncryption {
		rule := s3types.ServerSideEncryptionRule{
			ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
				SSEAlgorithm: s3types.ServerSideEncryptionAes256,
			},
		}
		if s.security.KMSKeyID != "" {
			rule.ApplyServerSideEncryptionByDefault.SSEAlgorithm = s3types.ServerSideEncryptionAwsKms
			rule.ApplyServerSideEncryptionByDefault.KMSMasterKeyID = &s.security.KMSKeyID
		}
		if _, err := s.client.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
			Bucket: &s.bucket,
			ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
				Rules: []s3types.ServerSideEncryptionRule{rule},
			},
		}); err != nil {
			return fmt.Errorf("%w: configuring encryption on %s: %v", apperrors.ErrStorage, s.bucket, err)
		}
	}

	if _, err := s.client.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: &s.bucket,
		PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(true),
			BlockPublicPolicy:     aws.Bool(true),
			IgnorePublicAcls:      aws.Bool(true),
			RestrictPublicBuckets: aws.Bool(true),
		},
	}); err != nil {
		return fmt.Errorf("%w: blocking public access on %s: %v", apperrors.ErrStorage, s.bucket, err)
	}

	s.provisioned = true
	return nil
}

// Persist implements ObjectStore.
func (s *S3Store) Persist(ctx context.Context, doc *evidence.Document) (string, error) {
	prefix := fmt.Sprintf("%s/%s/%s",
		sanitizeSegment(doc.Source),
		sanitizeSegment(doc.MatterID()),
		sanitizeSegment(doc.DocumentID))

	meta := s.objectMetadata(doc)

	if doc.BodyText != "" {
		bodyBytes := []byte(doc.BodyText)
		bodySum := sha256.Sum256(bodyBytes)
		bodyMeta := copyMetadata(meta)
		bodyMeta["content-sha256"] = hex.EncodeToString(bodySum[:])
		if err := s.upload(ctx, prefix+"/body.txt", bodyBytes, "text/plain", bodyMeta); err != nil {
			return "", err
		}
	}

	metadata, err := doc.MarshalCanonical()
	if err != nil {
		return "", fmt.Errorf("%w: serializing metadata: %v", apperrors.ErrStorage, err)
	}
	if err := s.upload(ctx, prefix+"/metadata.json", metadata, "application/json", meta); err != nil {
		return "", err
	}

	for _, att := range doc.Attachments {
		if att.Payload == nil {
			continue
		}
		name := sanitizeSegment(att.Filename)
		if name == "" {
			name = "unnamed"
		}
		attMeta := copyMetadata(meta)
		attMeta["object-type"] = "attachment"
		attMeta["filename"] = name
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := s.upload(ctx, prefix+"/attachments/"+name, att.Payload, contentType, attMeta); err != nil {
			return "", err
		}
	}

	location := fmt.Sprintf("s3://%s/%s", s.bucket, prefix)

	// The chain goes up last so the stored copy includes this event.
	doc.AddCustodyEvent(s.Name(), evidence.ActionPersisted, map[string]string{
		"location": location,
	})
	chain, err := doc.MarshalCustodyChain()
	if err != nil {
		return "", fmt.Errorf("%w: serializing custody chain: %v", apperrors.ErrStorage, err)
	}
	if err := s.upload(ctx, prefix+"/custody_chain.json", chain, "application/json", meta); err != nil {
		return "", err
	}

	s.log.Debug("persisted document",
		logging.F("document_id", doc.DocumentID),
		logging.F("location", location))
	return location, nil
}

// objectMetadata builds the S3 metadata map attached to every object.
// Keys are lowercase-hyphen; S3 prefixes them with x-amz-meta- on the wire.
func (s *S3Store) objectMetadata(doc *evidence.Document) map[string]string {
	subject := doc.Subject
	if len(subject) > maxSubjectMetadataLen {
		subject = subject[:maxSubjectMetadataLen]
	}
	return map[string]string{
		"tenant-id":       s.tenantID,
		"document-id":     doc.DocumentID,
		"source":          doc.Source,
		"object-type":     "document",
		"collected-at":    doc.CollectedAt.UTC().Format(time.RFC3339),
		"custodian-id":    doc.Custodian.Identifier,
		"custodian-email": doc.Custodian.Email,
		"subject":         sanitizeMetadataValue(subject),
	}
}

// upload writes one object with retries: single PUT for small payloads,
// multipart above the threshold.
func (s *S3Store) upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	operation := func() error {
		if len(data) <= multipartThreshold {
			_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:      &s.bucket,
				Key:         &key,
				Body:        bytes.NewReader(data),
				ContentType: &contentType,
				Metadata:    metadata,
			})
			return err
		}
		return s.uploadMultipart(ctx, key, data, contentType, metadata)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = uploadRetryBaseInterval
	policy.MaxInterval = 10 * time.Second

	// Two retries after the initial attempt: three tries total.
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, 2), ctx)); err != nil {
		return fmt.Errorf("%w: uploading s3://%s/%s: %v", apperrors.ErrStorage, s.bucket, key, err)
	}
	return nil
}

// uploadMultipart uploads in fixed-size parts, aborting the upload on any
// failure so incomplete parts do not accrue storage charges.
func (s *S3Store) uploadMultipart(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	create, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      &s.bucket,
		Key:         &key,
		ContentType: &contentType,
		Metadata:    metadata,
	})
	if err != nil {
		return err
	}
	uploadID := create.UploadId

	abort := func() {
		_, abortErr := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   &s.bucket,
			Key:      &key,
			UploadId: uploadID,
		})
		if abortErr != nil {
			s.log.Warn("failed to abort multipart upload",
				logging.F("key", key),
				logging.Err(abortErr))
		}
	}

	var completed []s3types.CompletedPart
	for i, offset := 0, 0; offset < len(data); i++ {
		end := offset + multipartPartSize
		if end > len(data) {
			end = len(data)
		}
		partNumber := int32(i + 1)

		part, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     &s.bucket,
			Key:        &key,
			UploadId:   uploadID,
			PartNumber: &partNumber,
			Body:       bytes.NewReader(data[offset:end]),
		})
		if err != nil {
			abort()
			return err
		}
		completed = append(completed, s3types.CompletedPart{
			ETag:       part.ETag,
			PartNumber: &partNumber,
		})
		offset = end
	}

	if _, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   &s.bucket,
		Key:      &key,
		UploadId: uploadID,
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: completed,
		},
	}); err != nil {
		abort()
		return err
	}
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// sanitizeMetadataValue strips characters S3 rejects in user metadata.
func sanitizeMetadataValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r > 126 {
			return -1
		}
		return r
	}, s)
}
