package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/agentrep/siwa-core/pkg/gateway"
	"github.com/agentrep/siwa-core/pkg/siwa"
	"github.com/go-chi/chi/v5/middleware"
)

// Response statuses.
const (
	StatusNonceIssued   = "nonce_issued"
	StatusAuthenticated = "authenticated"
	StatusRejected      = "rejected"
	StatusNotRegistered = "not_registered"
	StatusUnverified    = "unverified"
	StatusError         = "error"
)

// NonceRequest is the body of POST /nonce.
type NonceRequest struct {
	Address       string  `json:"address"`
	AgentID       AgentID `json:"agentId"`
	AgentRegistry string  `json:"agentRegistry"`
}

// AgentID accepts a JSON number or a decimal string.
type AgentID struct {
	Value   uint64
	Set     bool
	Invalid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AgentID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	a.Set = true
	s := string(b)
	if len(b) >= 2 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		a.Invalid = true
		return nil
	}
	a.Value = v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a AgentID) MarshalJSON() ([]byte, error) {
	if !a.Set {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatUint(a.Value, 10)), nil
}

// NonceResponse is the 200 body of POST /nonce.
type NonceResponse struct {
	Status         string `json:"status"`
	Nonce          string `json:"nonce"`
	NonceToken     string `json:"nonceToken"`
	Message        string `json:"message"`
	Domain         string `json:"domain"`
	URI            string `json:"uri"`
	IssuedAt       string `json:"issuedAt"`
	ExpirationTime string `json:"expirationTime"`
	Address        string `json:"address"`
	AgentID        uint64 `json:"agentId"`
	AgentRegistry  string `json:"agentRegistry"`
	ChainID        uint64 `json:"chainId"`
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	Message    string `json:"message"`
	Signature  string `json:"signature"`
	NonceToken string `json:"nonceToken"`
}

// VerifyResponse is the body of POST /verify. Receipt fields are only set on success.
type VerifyResponse struct {
	Status           string  `json:"status"`
	Code             string  `json:"code,omitempty"`
	Error            string  `json:"error,omitempty"`
	Valid            *bool   `json:"valid,omitempty"`
	Verified         bool    `json:"verified"`
	Receipt          string  `json:"receipt,omitempty"`
	ReceiptExpiresAt string  `json:"receiptExpiresAt,omitempty"`
	Address          string  `json:"address,omitempty"`
	AgentID          *uint64 `json:"agentId,omitempty"`
	AgentRegistry    string  `json:"agentRegistry,omitempty"`
	ChainID          uint64  `json:"chainId,omitempty"`
}

// ErrorResponse is the body of every other failure.
type ErrorResponse struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// SessionResponse is the body of GET /session.
type SessionResponse struct {
	Status        string `json:"status"`
	Address       string `json:"address"`
	AgentID       uint64 `json:"agentId"`
	AgentRegistry string `json:"agentRegistry"`
	ChainID       uint64 `json:"chainId"`
	Verified      bool   `json:"verified"`
	IssuedAt      string `json:"issuedAt"`
	ExpiresAt     string `json:"expiresAt"`
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	if !s.service.Configured() {
		s.writeError(w, r, siwa.ErrServerMisconfigured)
		return
	}

	var req NonceRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, siwa.WrapError(siwa.ErrCodeMissingField, "request body must be a JSON object", err))
		return
	}
	if req.AgentID.Invalid {
		s.writeError(w, r, siwa.NewError(siwa.ErrCodeMissingField, "agentId must be a non-negative integer"))
		return
	}

	var agentID *uint64
	if req.AgentID.Set {
		agentID = &req.AgentID.Value
	}

	issued, err := s.service.Nonces.IssueNonce(r.Context(), siwa.NonceRequest{
		Address:       req.Address,
		AgentID:       agentID,
		AgentRegistry: req.AgentRegistry,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cfg := s.service.Config()
	writeJSON(w, http.StatusOK, NonceResponse{
		Status:         StatusNonceIssued,
		Nonce:          issued.Nonce,
		NonceToken:     issued.Token,
		Message:        issued.Message,
		Domain:         cfg.Domain,
		URI:            cfg.URI,
		IssuedAt:       issued.IssuedAt.Format(time.RFC3339),
		ExpirationTime: issued.ExpiresAt.Format(time.RFC3339),
		Address:        issued.Claim.Address,
		AgentID:        issued.Claim.AgentID,
		AgentRegistry:  issued.Claim.AgentRegistry.String(),
		ChainID:        issued.Claim.ChainID(),
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if !s.service.Configured() {
		s.writeError(w, r, siwa.ErrServerMisconfigured)
		return
	}

	var req VerifyRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeErrorStatus(w, r, http.StatusBadRequest, siwa.WrapError(siwa.ErrCodeVerificationFailed, "request body must be a JSON object", err))
		return
	}
	if req.Message == "" || req.Signature == "" {
		s.writeErrorStatus(w, r, http.StatusBadRequest, siwa.NewError(siwa.ErrCodeVerificationFailed, "message and signature are required"))
		return
	}
	if req.NonceToken == "" {
		s.writeErrorStatus(w, r, http.StatusBadRequest, siwa.NewError(siwa.ErrCodeInvalidNonce, "nonceToken is required"))
		return
	}

	result, err := s.service.Verifier.Verify(r.Context(), siwa.VerifyRequest{
		Message:    req.Message,
		Signature:  req.Signature,
		NonceToken: req.NonceToken,
	}, s.opts.Policy)
	if err != nil {
		s.writeVerifyFailure(w, r, result, err)
		return
	}

	receipt, err := s.service.Receipts.Issue(result)
	if err != nil {
		s.writeVerifyFailure(w, r, result, err)
		return
	}

	resp := resultResponse(StatusAuthenticated, result)
	resp.Receipt = receipt.Token
	resp.ReceiptExpiresAt = receipt.ExpiresAt.Format(time.RFC3339)
	resp.Valid = nil
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := gateway.ClaimsFromContext(r.Context())
	if !ok {
		s.writeError(w, r, siwa.ErrInvalidReceipt)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Status:        StatusAuthenticated,
		Address:       claims.Subject,
		AgentID:       claims.AgentID,
		AgentRegistry: claims.AgentRegistry,
		ChainID:       claims.ChainID,
		Verified:      claims.Verified,
		IssuedAt:      claims.IssuedAtTime().Format(time.RFC3339),
		ExpiresAt:     claims.ExpiresAt().Format(time.RFC3339),
	})
}

func (s *Server) writeVerifyFailure(w http.ResponseWriter, r *http.Request, result *siwa.VerificationResult, err error) {
	siwaErr, ok := siwa.AsError(err)
	if !ok || result == nil {
		s.writeError(w, r, err)
		return
	}

	kind := siwaErr.Kind()
	if kind == siwa.KindConfiguration || kind == siwa.KindUpstream {
		s.writeError(w, r, err)
		return
	}
	s.logCause(r, siwaErr)

	resp := resultResponse(statusFor(kind), result)
	resp.Code = siwaErr.Code
	resp.Error = siwaErr.Message
	if kind == siwa.KindPolicy && result.Error != "" {
		resp.Error = result.Error
	}
	writeJSON(w, kind.HTTPStatus(), resp)
}

func resultResponse(status string, result *siwa.VerificationResult) VerifyResponse {
	valid := result.Valid
	resp := VerifyResponse{
		Status:   status,
		Valid:    &valid,
		Verified: result.Verified,
	}
	if !result.Claim.AgentRegistry.IsZero() {
		agentID := result.Claim.AgentID
		resp.Address = result.Claim.Address
		resp.AgentID = &agentID
		resp.AgentRegistry = result.Claim.AgentRegistry.String()
		resp.ChainID = result.Claim.ChainID()
	}
	return resp
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorStatus(w, r, 0, err)
}

// writeErrorStatus writes err as an ErrorResponse. A zero status uses the
// status of the error's kind. Causes are logged, never returned.
func (s *Server) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	siwaErr, ok := siwa.AsError(err)
	if !ok {
		siwaErr = siwa.WrapError(siwa.ErrCodeServerMisconfigured, "Server misconfigured: internal error", err)
	}
	s.logCause(r, siwaErr)

	if status == 0 {
		status = siwaErr.Kind().HTTPStatus()
	}
	writeJSON(w, status, ErrorResponse{
		Status: statusFor(siwaErr.Kind()),
		Code:   siwaErr.Code,
		Error:  siwaErr.Message,
	})
}

func (s *Server) logCause(r *http.Request, err *siwa.Error) {
	switch err.Kind() {
	case siwa.KindConfiguration, siwa.KindUpstream:
		log.Printf("[api] %s %s request_id=%s: %v", r.Method, r.URL.Path, middleware.GetReqID(r.Context()), err)
	}
}

func statusFor(kind siwa.Kind) string {
	switch kind {
	case siwa.KindNotRegistered:
		return StatusNotRegistered
	case siwa.KindPolicy:
		return StatusUnverified
	case siwa.KindConfiguration, siwa.KindUpstream:
		return StatusError
	default:
		return StatusRejected
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] failed to write response: %v", err)
	}
}
