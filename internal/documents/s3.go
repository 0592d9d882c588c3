package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/model"
)

// objectAPI is the part of the S3 client the store uses
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store keeps evidence in a bucket under claims/<policy>/<upload>.pdf
type S3Store struct {
	api      objectAPI
	bucket   string
	maxBytes int64
	clock    clock.Clock
	logger   logrus.FieldLogger
}

// NewS3Store loads AWS credentials the default way and creates the store.
// A configured endpoint (localstack, minio) switches to path-style URLs.
func NewS3Store(ctx context.Context, cfg model.DocumentsConfig, clk clock.Clock, logger logrus.FieldLogger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("invalid documents configuration: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, cfg.Bucket, cfg.MaxBytes, clk, logger), nil
}

func newS3Store(api objectAPI, bucket string, maxBytes int64, clk clock.Clock, logger logrus.FieldLogger) *S3Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &S3Store{api: api, bucket: bucket, maxBytes: maxBytes, clock: clk, logger: logger}
}

// ObjectKey builds the key for an upload
func ObjectKey(policyNumber, uploadID string) string {
	return fmt.Sprintf("claims/%s/%s.pdf", policyNumber, uploadID)
}

// Upload stores the file with its policy number as metadata
func (s *S3Store) Upload(ctx context.Context, req UploadRequest) (*Upload, error) {
	// the SDK needs a seekable body to sign the payload
	data, err := io.ReadAll(io.LimitReader(req.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, apperr.Validation(fmt.Sprintf("file size must be at most %d bytes", s.maxBytes),
			map[string]string{"file": "too large"})
	}

	id := ulid.Make().String()
	key := ObjectKey(req.PolicyNumber, id)

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(ContentTypePDF),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"policy_number": req.PolicyNumber,
			"upload_id":     id,
			"filename":      req.Filename,
		},
	})
	if err != nil {
		return nil, apperr.Collaborator("documents", fmt.Errorf("put %s: %w", key, err))
	}

	s.logger.WithFields(logrus.Fields{"key": key, "size": len(data)}).Info("evidence uploaded")

	return &Upload{
		ID:           id,
		Filename:     req.Filename,
		Size:         int64(len(data)),
		PolicyNumber: req.PolicyNumber,
		Status:       StatusUploaded,
		UploadedAt:   s.clock.Now().UTC(),
	}, nil
}

// Verify checks the stored object's type, size and policy metadata
func (s *S3Store) Verify(ctx context.Context, uploadID, policyNumber string) (*Verification, error) {
	key := ObjectKey(policyNumber, uploadID)

	head, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, apperr.NotFound("upload", uploadID)
		}
		return nil, apperr.Collaborator("documents", fmt.Errorf("head %s: %w", key, err))
	}

	meta := make(map[string]string, len(head.Metadata))
	for k, v := range head.Metadata {
		meta[strings.ToLower(k)] = v
	}

	var size int64
	if head.ContentLength != nil {
		size = *head.ContentLength
	}
	contentType := strings.ToLower(aws.ToString(head.ContentType))

	details := VerificationDetails{
		DocumentValid:      contentType == ContentTypePDF && size > 0 && size <= s.maxBytes,
		SignaturesVerified: meta["upload_id"] == uploadID,
		IssuerVerified:     meta["policy_number"] == policyNumber,
	}
	status := StatusVerified
	if !details.DocumentValid || !details.SignaturesVerified || !details.IssuerVerified {
		status = StatusRejected
	}

	return &Verification{
		ID:           ulid.Make().String(),
		UploadID:     uploadID,
		PolicyNumber: policyNumber,
		Status:       status,
		DocumentType: DocumentTypeDeathCertificate,
		VerifiedAt:   s.clock.Now().UTC(),
		Details:      details,
	}, nil
}
