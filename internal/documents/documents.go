// Package documents stores and verifies claim evidence.
package documents

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/model"
)

const (
	ContentTypePDF = "application/pdf"

	// DefaultMaxBytes caps evidence uploads at 10 MiB
	DefaultMaxBytes int64 = 10 << 20

	DocumentTypeDeathCertificate = "death_certificate"

	StatusUploaded = "uploaded"
	StatusVerified = "verified"
	StatusRejected = "rejected"
)

// Store accepts evidence uploads and verifies them later
type Store interface {
	Upload(ctx context.Context, req UploadRequest) (*Upload, error)
	Verify(ctx context.Context, uploadID, policyNumber string) (*Verification, error)
}

// UploadRequest is one evidence file
type UploadRequest struct {
	PolicyNumber string
	Filename     string
	ContentType  string
	Size         int64
	Body         io.Reader
}

// Upload is the stored evidence
type Upload struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	PolicyNumber string    `json:"policy_number"`
	Status       string    `json:"status"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Verification is the outcome of checking an upload
type Verification struct {
	ID           string              `json:"id"`
	UploadID     string              `json:"upload_id"`
	PolicyNumber string              `json:"policy_number"`
	Status       string              `json:"status"`
	DocumentType string              `json:"document_type"`
	VerifiedAt   time.Time           `json:"verified_at"`
	Details      VerificationDetails `json:"verification_details"`
}

// VerificationDetails lists the individual checks
type VerificationDetails struct {
	DocumentValid      bool `json:"document_valid"`
	SignaturesVerified bool `json:"signatures_verified"`
	IssuerVerified     bool `json:"issuer_verified"`
}

// Verified reports whether every check passed
func (v *Verification) Verified() bool {
	return v.Status == StatusVerified
}

// EvidenceRef is how a claim points at verified evidence
func EvidenceRef(verificationID string) string {
	return "verification://" + verificationID
}

// CheckUpload validates an upload before it reaches any adapter
func CheckUpload(req UploadRequest, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	fields := map[string]string{}
	if strings.TrimSpace(req.PolicyNumber) == "" {
		fields["policy_number"] = "is required"
	}
	if req.Body == nil {
		fields["file"] = "is required"
	}
	if len(fields) > 0 {
		return apperr.Validation("file and policy number are required", fields)
	}

	contentType := strings.ToLower(strings.TrimSpace(strings.SplitN(req.ContentType, ";", 2)[0]))
	if contentType != ContentTypePDF {
		return apperr.Validation("only PDF files are allowed", map[string]string{"file": "must be application/pdf"})
	}
	if req.Size > maxBytes {
		return apperr.Validation(fmt.Sprintf("file size must be at most %d bytes", maxBytes),
			map[string]string{"file": "too large"})
	}
	return nil
}

// NewStore selects the live (S3) or mock adapter
func NewStore(ctx context.Context, cfg model.Config, clk clock.Clock, logger logrus.FieldLogger) (Store, error) {
	mode := strings.ToLower(cfg.CollaboratorMode(cfg.Documents.Mode))

	switch mode {
	case "mock":
		return NewMock(clk, cfg.Documents.Latency), nil

	case "live":
		s, err := NewS3Store(ctx, cfg.Documents, clk, logger)
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown documents mode: %s (supported: mock, live)", cfg.Documents.Mode)
	}
}
