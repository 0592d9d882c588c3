package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/beneficiary"
	"github.com/ppiankov/extralife/internal/checkout"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/policy"
	"github.com/ppiankov/extralife/internal/pricing"
	"github.com/ppiankov/extralife/internal/validate"
)

type quoteRequest struct {
	CoverageType   model.CoverageType `json:"coverageType" validate:"required,oneof=basic standard premium platinum"`
	CoverageAmount int64              `json:"coverageAmount" validate:"gte=0"`
	Age            int                `json:"age" validate:"min=18,max=99"`
	Gender         model.Gender       `json:"gender" validate:"required,oneof=male female other"`
	Region         string             `json:"region"`
}

func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, pricing.Calculate(req.CoverageType, req.CoverageAmount, req.Age, req.Gender, req.Region))
}

func (s *Server) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Checkout.Checkout(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]
	p, err := s.deps.Policies.GetPolicyByNumber(r.Context(), number)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p == nil {
		s.writeError(w, r, apperr.NotFound("policy", number))
		return
	}
	writeData(w, http.StatusOK, p)
}

func (s *Server) policyStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Policies.StatusOf(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, st)
}

func (s *Server) setContractHash(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ContractTxHash string `json:"contractTxHash"`
	}
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.deps.Policies.SetContractHash(r.Context(), mux.Vars(r)["number"], body.ContractTxHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (s *Server) updatePolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var u policy.PolicyUpdate
	if err := decode(w, r, &u); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.deps.Policies.UpdatePolicy(r.Context(), id, u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p == nil {
		s.writeError(w, r, apperr.NotFound("policy", id))
		return
	}
	writeData(w, http.StatusOK, p)
}

func (s *Server) listBeneficiaries(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := s.deps.Policies.GetPolicyByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p == nil {
		s.writeError(w, r, apperr.NotFound("policy", id))
		return
	}

	list, err := s.deps.Beneficiaries.GetBeneficiariesByPolicy(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

type beneficiaryRequest struct {
	beneficiary.Profile
	Percentage int `json:"percentage"`
}

func (s *Server) createBeneficiary(w http.ResponseWriter, r *http.Request) {
	var req beneficiaryRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.deps.Beneficiaries.CreateBeneficiary(r.Context(), mux.Vars(r)["id"], req.Percentage, req.Profile)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, b)
}

func (s *Server) updateBeneficiary(w http.ResponseWriter, r *http.Request) {
	var u beneficiary.Update
	if err := decode(w, r, &u); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.deps.Beneficiaries.UpdateBeneficiary(r.Context(), mux.Vars(r)["id"], u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, b)
}

func (s *Server) deleteBeneficiary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Beneficiaries.DeleteBeneficiary(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}
