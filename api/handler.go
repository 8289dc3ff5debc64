// Package api exposes the World Tree's single HTTP surface: a stateless
// inclusion-proof endpoint backed by a ProofService.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wuggen/world-tree/merkletree"
	"github.com/wuggen/world-tree/worldtree"
)

// ProofService is the subset of worldtree.TreeData the handler depends on.
// Accepting an interface instead of *worldtree.TreeData keeps the handler
// testable without a real tree.
type ProofService interface {
	GetInclusionProof(identity merkletree.Hash, root *merkletree.Hash) (*worldtree.InclusionProof, error)
}

// Handler serves POST /inclusionProof. It holds no mutable state of its own;
// every request is answered purely from the ProofService.
type Handler struct {
	tree ProofService
}

// NewHandler builds a Handler backed by tree.
func NewHandler(tree ProofService) *Handler {
	return &Handler{tree: tree}
}

// RegisterRoutes wires the handler's route onto r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/inclusionProof", h.handleInclusionProof).Methods(http.MethodPost)
}

type inclusionProofRequest struct {
	IdentityCommitment string  `json:"identityCommitment"`
	Root               *string `json:"root,omitempty"`
}

type inclusionProofResponse struct {
	Root    string           `json:"root"`
	Proof   merkletree.Proof `json:"proof"`
	Message *string          `json:"message"`
}

func (h *Handler) handleInclusionProof(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()

	var req inclusionProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[HTTP] %s malformed request body: %v", reqID, err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	identity, err := merkletree.HashFromHex(req.IdentityCommitment)
	if err != nil {
		log.Printf("[HTTP] %s malformed identityCommitment: %v", reqID, err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var root *merkletree.Hash
	if req.Root != nil {
		parsed, err := merkletree.HashFromHex(*req.Root)
		if err != nil {
			log.Printf("[HTTP] %s malformed root: %v", reqID, err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		root = &parsed
	}

	proof, err := h.tree.GetInclusionProof(identity, root)
	if err != nil {
		log.Printf("[HTTP] %s internal error resolving proof: %v", reqID, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if proof == nil {
		// Covers both "identity never registered" and "root outside the
		// retained history window" — see worldtree.TreeData.GetInclusionProof.
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := inclusionProofResponse{Root: proof.Root.Hex(), Proof: proof.Proof, Message: nil}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[HTTP] %s failed writing response: %v", reqID, err)
	}
}
