package documents

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ppiankov/extralife/internal/clock"
)

// Mock accepts every upload and verifies everything
type Mock struct {
	clock   clock.Clock
	latency time.Duration
}

// NewMock creates the mock document store
func NewMock(clk clock.Clock, latency time.Duration) *Mock {
	return &Mock{clock: clk, latency: latency}
}

func (m *Mock) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Upload returns an uploaded record without storing the body
func (m *Mock) Upload(ctx context.Context, req UploadRequest) (*Upload, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return &Upload{
		ID:           ulid.Make().String(),
		Filename:     req.Filename,
		Size:         req.Size,
		PolicyNumber: req.PolicyNumber,
		Status:       StatusUploaded,
		UploadedAt:   m.clock.Now().UTC(),
	}, nil
}

// Verify always succeeds
func (m *Mock) Verify(ctx context.Context, uploadID, policyNumber string) (*Verification, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return &Verification{
		ID:           ulid.Make().String(),
		UploadID:     uploadID,
		PolicyNumber: policyNumber,
		Status:       StatusVerified,
		DocumentType: DocumentTypeDeathCertificate,
		VerifiedAt:   m.clock.Now().UTC(),
		Details: VerificationDetails{
			DocumentValid:      true,
			SignaturesVerified: true,
			IssuerVerified:     true,
		},
	}, nil
}
