package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	xerrors "VaultGuard/internal/errors"
	"VaultGuard/internal/web3"
)

type balanceResponse struct {
	ChallengeID string `json:"challengeId"`
	Wei         string `json:"wei"`
	ETH         string `json:"eth"`
}

type expirationResponse struct {
	ChallengeID string `json:"challengeId"`
	ExpiresAt   int64  `json:"expiresAt"`
}

type unlockRequest struct {
	Address string `json:"address"`
}

type txResponse struct {
	ChallengeID string `json:"challengeId"`
	TxHash      string `json:"txHash"`
}

// challengeParam 取出路径中的挑战 ID，缺失时写出 400。
func (s *Server) challengeParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.vault == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "Vault service not configured"))
		return "", false
	}
	id := strings.TrimSpace(chi.URLParam(r, "challengeID"))
	if id == "" {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "Missing challengeId"))
		return "", false
	}
	return id, true
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.challengeParam(w, r)
	if !ok {
		return
	}
	wei, err := s.vault.Balance(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{ChallengeID: id, Wei: wei.String(), ETH: web3.FormatEther(wei)})
}

func (s *Server) handleExpiration(w http.ResponseWriter, r *http.Request) {
	id, ok := s.challengeParam(w, r)
	if !ok {
		return
	}
	expiresAt, err := s.vault.Expiration(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expirationResponse{ChallengeID: id, ExpiresAt: expiresAt.Unix()})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	id, ok := s.challengeParam(w, r)
	if !ok {
		return
	}
	var req unlockRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "Invalid JSON body"))
		return
	}
	hash, err := s.vault.Unlock(r.Context(), id, req.Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txResponse{ChallengeID: id, TxHash: hash.Hex()})
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.challengeParam(w, r)
	if !ok {
		return
	}
	hash, err := s.vault.DistributeFunds(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txResponse{ChallengeID: id, TxHash: hash.Hex()})
}
