package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/cache"
	"github.com/ppiankov/extralife/internal/claim"
	"github.com/ppiankov/extralife/internal/documents"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/validate"
)

// payout currency reported to claimants
const payoutCurrency = "MXNB"

func (s *Server) uploadEvidence(w http.ResponseWriter, r *http.Request) {
	// multipart framing on top of the file itself
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+maxBodyBytes)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, apperr.Validation("file too large", map[string]string{"file": "too large"}))
			return
		}
		s.writeError(w, r, apperr.Validation("invalid multipart form", map[string]string{"file": err.Error()}))
		return
	}
	defer r.MultipartForm.RemoveAll()

	number := strings.TrimSpace(r.FormValue("policy_number"))
	file, header, err := r.FormFile("file")
	if err != nil {
		fields := map[string]string{"file": "is required"}
		if number == "" {
			fields["policy_number"] = "is required"
		}
		s.writeError(w, r, apperr.Validation("file and policy number are required", fields))
		return
	}
	defer file.Close()

	req := documents.UploadRequest{
		PolicyNumber: number,
		Filename:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Size:         header.Size,
		Body:         file,
	}
	if err := documents.CheckUpload(req, s.maxUpload); err != nil {
		s.writeError(w, r, err)
		return
	}

	p, err := s.deps.Policies.GetPolicyByNumber(r.Context(), number)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p == nil {
		s.writeError(w, r, apperr.NotFound("policy", number))
		return
	}

	up, err := s.deps.Documents.Upload(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, up)
}

type verifyRequest struct {
	UploadID     string `json:"upload_id" validate:"required"`
	PolicyNumber string `json:"policy_number" validate:"required"`
}

func (s *Server) verifyEvidence(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.deps.Documents.Verify(r.Context(), req.UploadID, req.PolicyNumber)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if v.Verified() {
		_ = s.verifications.Set(cache.Key("verification", v.ID), []byte(req.PolicyNumber), s.verificationTTL)
	}
	writeData(w, http.StatusOK, v)
}

type processRequest struct {
	PolicyNumber     string          `json:"policy_number" validate:"required"`
	BeneficiaryClabe string          `json:"beneficiary_clabe" validate:"omitempty,clabe"`
	Amount           float64         `json:"amount" validate:"gt=0"`
	VerificationID   string          `json:"verification_id"`
	ClaimType        model.ClaimType `json:"claimType" validate:"omitempty,oneof=death other"`
}

type processResponse struct {
	ClaimID           string             `json:"claim_id,omitempty"`
	ClaimNumber       string             `json:"claim_number,omitempty"`
	Status            string             `json:"status"`
	Amount            float64            `json:"amount"`
	Currency          string             `json:"currency"`
	BeneficiaryClabe  string             `json:"beneficiary_clabe,omitempty"`
	JunoTransactionID string             `json:"juno_transaction_id,omitempty"`
	Transfers         []claim.Transfer   `json:"transfers,omitempty"`
	PolicyStatus      model.PolicyStatus `json:"policy_status,omitempty"`
	Message           string             `json:"message"`
}

// processClaim files a claim for a policy and, when the evidence was
// verified, pays it out straight away. Infrastructure failures are reported
// as a submitted claim pending review; caller errors keep their status.
func (s *Server) processClaim(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	pending := func(c *model.Claim, err error) {
		s.logger.WithError(err).WithField("policy_number", req.PolicyNumber).Warn("claim processing deferred to review")
		res := processResponse{
			Status:   "submitted",
			Amount:   req.Amount,
			Currency: payoutCurrency,
			Message:  "Claim submitted and pending review",
		}
		if c != nil {
			res.ClaimID = c.ID
			res.ClaimNumber = c.ClaimNumber
		}
		writeData(w, http.StatusAccepted, res)
	}

	p, err := s.deps.Policies.GetPolicyByNumber(r.Context(), req.PolicyNumber)
	if err != nil {
		pending(nil, err)
		return
	}
	if p == nil {
		s.writeError(w, r, apperr.NotFound("policy", req.PolicyNumber))
		return
	}

	nc := claim.NewClaim{
		PolicyID:    p.ID,
		ClaimType:   req.ClaimType,
		Amount:      req.Amount,
		Destination: req.BeneficiaryClabe,
	}
	// a verification approves one claim, for the policy it was issued to
	var giveBack func()
	if req.VerificationID != "" {
		key := cache.Key("verification", req.VerificationID)
		val, ttl, ok := s.verifications.Take(key)
		if ok {
			giveBack = func() { _ = s.verifications.Set(key, val, ttl) }
		}
		if ok && string(val) == req.PolicyNumber {
			nc.AutoApprove = true
			nc.EvidenceRef = documents.EvidenceRef(req.VerificationID)
		} else {
			if ok {
				giveBack()
				giveBack = nil
			}
			s.logger.WithField("policy_number", req.PolicyNumber).Warn("unknown verification, claim left for review")
		}
	}

	c, err := s.deps.Claims.CreateClaim(r.Context(), nc)
	if err != nil {
		if giveBack != nil {
			giveBack()
		}
		if masked(err) {
			pending(nil, err)
			return
		}
		s.writeError(w, r, err)
		return
	}

	if c.Status != model.ClaimApproved {
		writeData(w, http.StatusCreated, processResponse{
			ClaimID:     c.ID,
			ClaimNumber: c.ClaimNumber,
			Status:      string(c.Status),
			Amount:      c.ClaimAmount,
			Currency:    payoutCurrency,
			Message:     "Claim submitted and pending review",
		})
		return
	}

	res, err := s.deps.Claims.Payout(r.Context(), c.ID, req.BeneficiaryClabe)
	if err != nil {
		if masked(err) {
			pending(c, err)
			return
		}
		s.writeError(w, r, err)
		return
	}

	out := processResponse{
		ClaimID:           res.Claim.ID,
		ClaimNumber:       res.Claim.ClaimNumber,
		Status:            string(res.Claim.Status),
		Amount:            res.Claim.ClaimAmount,
		Currency:          payoutCurrency,
		BeneficiaryClabe:  req.BeneficiaryClabe,
		JunoTransactionID: res.Claim.TransactionID,
		Transfers:         res.Transfers,
		Message:           "Claim approved and paid",
	}
	if updated, err := s.deps.Policies.GetPolicyByID(r.Context(), p.ID); err == nil && updated != nil {
		out.PolicyStatus = updated.Status
	}
	writeData(w, http.StatusOK, out)
}

// masked reports errors that a claimant sees as "pending review"
func masked(err error) bool {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return true
	}
	return !appErr.Expected()
}

func (s *Server) getClaim(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["id"]
	c, err := s.deps.Claims.GetClaimByID(r.Context(), key)
	if err == nil && c == nil {
		c, err = s.deps.Claims.GetClaimByNumber(r.Context(), key)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if c == nil {
		s.writeError(w, r, apperr.NotFound("claim", key))
		return
	}
	writeData(w, http.StatusOK, c)
}

type transitionRequest struct {
	Status model.ClaimStatus `json:"status" validate:"required"`
	Notes  string            `json:"notes"`
}

func (s *Server) transitionClaim(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.deps.Claims.Transition(r.Context(), mux.Vars(r)["id"], req.Status, req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (s *Server) payoutClaim(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Destination string `json:"destination"`
	}
	if r.ContentLength != 0 {
		if err := decode(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	res, err := s.deps.Claims.Payout(r.Context(), mux.Vars(r)["id"], body.Destination)
	if err != nil {
		if res != nil {
			// partial progress is still useful to the operator
			writeJSON(w, apperr.HTTPStatus(err), envelope{Error: apperr.PublicMessage(err), Data: res})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}
