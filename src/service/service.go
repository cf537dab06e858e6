// Package service exposes the relay over HTTP. The API mirrors the three
// legs of the handshake: shippers POST to /submit, carriers to /claim and
// /intransit, receivers to /deliver; /status and /payloads are read-only.
package service

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/blueships/sync/src/bridge"
	cm "github.com/blueships/sync/src/common"
	"github.com/blueships/sync/src/payload"
	"github.com/blueships/sync/src/signing"
	"github.com/blueships/sync/src/state"
	"github.com/blueships/sync/src/transport"
	"github.com/blueships/sync/src/trust"
	"github.com/sirupsen/logrus"
)

// Service ...
type Service struct {
	bindAddress string
	bridge      *bridge.Bridge
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, b *bridge.Bridge, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		bridge:      b,
		logger:      logger,
	}

	return &service
}

// Mux returns the service's HTTP handlers on a dedicated ServeMux.
func (s *Service) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/submit", s.makeHandler(s.Submit))
	mux.HandleFunc("/claim/", s.makeHandler(s.Claim))
	mux.HandleFunc("/intransit/", s.makeHandler(s.InTransit))
	mux.HandleFunc("/deliver/", s.makeHandler(s.Deliver))
	mux.HandleFunc("/status/", s.makeHandler(s.GetStatus))
	mux.HandleFunc("/payloads", s.makeHandler(s.GetPayloads))
	mux.HandleFunc("/parties", s.makeHandler(s.Parties))

	return mux
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving relay API")

	err := http.ListenAndServe(s.bindAddress, s.Mux())
	if err != nil {
		s.logger.Error(err)
	}
}

//==============================================================================
//Error mapping

type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Status string `json:"status,omitempty"`
}

// writeError maps the typed errors of the core onto HTTP codes. When the
// transaction is known, the response carries its authoritative status so a
// rejected caller can see where the handshake actually stands.
func (s *Service) writeError(w http.ResponseWriter, err error, tx *state.Transaction) {
	res := errorResponse{Error: err.Error()}
	code := http.StatusInternalServerError

	switch {
	case payload.IsValidation(err):
		res.Kind = "validation"
		code = http.StatusBadRequest
	case signing.IsSignature(err):
		res.Kind = "signature"
		code = http.StatusUnauthorized
	case state.IsIllegalTransition(err):
		res.Kind = "illegal_transition"
		code = http.StatusConflict
	case bridge.IsBusy(err):
		res.Kind = "busy"
		code = http.StatusConflict
	case transport.IsCapacity(err):
		res.Kind = "capacity"
		code = http.StatusRequestEntityTooLarge
	case cm.IsStore(err, cm.KeyNotFound):
		res.Kind = "not_found"
		code = http.StatusNotFound
	case cm.IsStore(err, cm.KeyAlreadyExists):
		res.Kind = "already_exists"
		code = http.StatusConflict
	default:
		res.Kind = "internal"
	}

	if tx != nil {
		res.Status = tx.Status.String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(res)
}

func (s *Service) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return ioutil.ReadAll(io.LimitReader(r.Body, 1<<20))
}

//==============================================================================
//Handlers

// Submit accepts the wire encoding of a signed record and returns the
// transaction id.
func (s *Service) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := readBody(r)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	txID, err := s.bridge.Submit(raw)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{
		"transaction_id": txID,
		"status":         state.Created.String(),
	})
}

type carrierRequest struct {
	CarrierID string `json:"carrier_erp_id"`
}

// Claim assigns a transaction to a carrier. The carrier id comes in the JSON
// body.
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	txID := r.URL.Path[len("/claim/"):]

	var req carrierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CarrierID == "" {
		s.writeError(w, payload.NewValidationError("carrier_erp_id", "missing or malformed"), nil)
		return
	}

	tx, err := s.bridge.Claim(txID, req.CarrierID)
	if err != nil {
		s.writeError(w, err, tx)
		return
	}

	s.writeJSON(w, http.StatusOK, tx)
}

// InTransit records the carrier's physical pickup.
func (s *Service) InTransit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	txID := r.URL.Path[len("/intransit/"):]

	var req carrierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CarrierID == "" {
		s.writeError(w, payload.NewValidationError("carrier_erp_id", "missing or malformed"), nil)
		return
	}

	tx, err := s.bridge.MarkInTransit(txID, req.CarrierID)
	if err != nil {
		s.writeError(w, err, tx)
		return
	}

	s.writeJSON(w, http.StatusOK, tx)
}

// Deliver accepts the raw bytes as received from the proximity transport.
func (s *Service) Deliver(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	txID := r.URL.Path[len("/deliver/"):]

	raw, err := readBody(r)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	tx, err := s.bridge.Deliver(txID, raw)
	if err != nil {
		s.writeError(w, err, tx)
		return
	}

	s.writeJSON(w, http.StatusOK, tx)
}

// GetStatus returns the authoritative view of a transaction, including its
// audit trail.
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	txID := r.URL.Path[len("/status/"):]

	tx, err := s.bridge.GetStatus(txID)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	s.writeJSON(w, http.StatusOK, tx)
}

// GetPayloads lists the ids of all known transactions.
func (s *Service) GetPayloads(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{
		"transaction_ids": s.bridge.TransactionIDs(),
	})
}

type partyRequest struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	PubKeyHex string `json:"pub_key_hex"`
}

// Parties registers a party on POST, rotates a party's key on PUT, and lists
// registered parties on GET.
func (s *Service) Parties(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.bridge.Parties())

	case http.MethodPut:
		var req partyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, payload.NewValidationError("party", "malformed encoding"), nil)
			return
		}

		if err := s.bridge.AddPartyKey(req.ID, req.PubKeyHex); err != nil {
			s.writeError(w, err, nil)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]string{"id": req.ID})

	case http.MethodPost:
		var req partyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, payload.NewValidationError("party", "malformed encoding"), nil)
			return
		}

		role, err := trust.ParseRole(req.Role)
		if err != nil {
			s.writeError(w, payload.NewValidationError("role", err.Error()), nil)
			return
		}

		party, err := trust.NewParty(req.ID, role, req.PubKeyHex)
		if err != nil {
			s.writeError(w, payload.NewValidationError("pub_key_hex", err.Error()), nil)
			return
		}

		if err := s.bridge.RegisterParty(party); err != nil {
			s.writeError(w, err, nil)
			return
		}

		s.writeJSON(w, http.StatusCreated, party)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
