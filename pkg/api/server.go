package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/openswap-labs/openswap/pkg/exchange"
	"github.com/openswap-labs/openswap/pkg/host"
	"github.com/openswap-labs/openswap/pkg/ledger"
)

// Server routes the external operations onto the engine and streams engine
// events over WebSocket. It is the dispatch glue: every engine error is
// collapsed here into an ok=false response.
type Server struct {
	engine *exchange.Engine
	env    *host.Env
	router *mux.Router
	hub    *Hub
	faucet bool
}

// NewServer creates the API server. enableFaucet opens the dev-only mint
// endpoint; leave it off anywhere real value is at stake.
func NewServer(engine *exchange.Engine, env *host.Env, enableFaucet bool) *Server {
	s := &Server{
		engine: engine,
		env:    env,
		router: mux.NewRouter(),
		hub:    NewHub(),
		faucet: enableFaucet,
	}
	engine.SetEmitter(s)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Operations
	api.HandleFunc("/offers", s.handleMakeOffer).Methods("POST")
	api.HandleFunc("/offers/fill", s.handleFillOffer).Methods("POST")
	api.HandleFunc("/offers/cancel", s.handleCancelOffer).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")

	// Queries
	api.HandleFunc("/offers", s.handleQueryOffers).Methods("GET")
	api.HandleFunc("/offers/{hash}", s.handleOfferDetails).Methods("GET")
	api.HandleFunc("/balances/{address}", s.handleBalanceHistory).Methods("GET")
	api.HandleFunc("/balances/{address}/{asset}", s.handleNetBalance).Methods("GET")

	if s.faucet {
		api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server.
func (s *Server) Start(addr string, corsOrigins []string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// Emit implements exchange.Emitter: engine events fan out to subscribers of
// the "events" firehose and of the per-type channel.
func (s *Server) Emit(ev exchange.Event) {
	s.hub.BroadcastToChannel("events", ev)
	s.hub.BroadcastToChannel(ev.Type, ev)
}

// ==============================
// Operation handlers
// ==============================

func (s *Server) handleMakeOffer(w http.ResponseWriter, r *http.Request) {
	var req MakeOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondOp(w, "", err)
		return
	}
	terms, err := req.Terms.parse()
	if err != nil {
		respondOp(w, "", err)
		return
	}
	sig, err := parseSignature(req.Signature)
	if err != nil {
		respondOp(w, "", err)
		return
	}
	attached, err := parseAttached(req.Attached)
	if err != nil {
		respondOp(w, "", err)
		return
	}

	iv, err := s.env.NewInvocation(terms.Maker, attached)
	if err != nil {
		respondOp(w, "", err)
		return
	}
	hash, err := s.engine.MakeOffer(iv, terms, sig)
	if err != nil {
		iv.Revert()
		respondOp(w, "", err)
		return
	}
	log.Printf("[api] offer created: %s maker=%s", hash.Hex(), terms.Maker.Hex())
	respondOp(w, hash.Hex(), nil)
}

func (s *Server) handleFillOffer(w http.ResponseWriter, r *http.Request) {
	var req FillOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondOp(w, "", err)
		return
	}
	terms, err := req.Terms.parse()
	if err != nil {
		respondOp(w, "", err)
		return
	}
	if !common.IsHexAddress(req.Filler) {
		respondOp(w, "", errors.New("invalid filler address"))
		return
	}
	filler := common.HexToAddress(req.Filler)
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondOp(w, "", err)
		return
	}
	attached, err := parseAttached(req.Attached)
	if err != nil {
		respondOp(w, "", err)
		return
	}
	offerHash := common.HexToHash(req.OfferHash)

	iv, err := s.env.NewInvocation(filler, attached)
	if err != nil {
		respondOp(w, "", err)
		return
	}
	if err := s.engine.FillOffer(iv, offerHash, terms, filler, amount); err != nil {
		iv.Revert()
		respondOp(w, "", err)
		return
	}
	log.Printf("[api] offer filled: %s filler=%s amount=%s", offerHash.Hex(), filler.Hex(), amount)
	respondOp(w, offerHash.Hex(), nil)
}

func (s *Server) handleCancelOffer(w http.ResponseWriter, r *http.Request) {
	var req CancelOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondOp(w, "", err)
		return
	}
	terms, err := req.Terms.parse()
	if err != nil {
		respondOp(w, "", err)
		return
	}
	if !common.IsHexAddress(req.Canceller) {
		respondOp(w, "", errors.New("invalid canceller address"))
		return
	}
	canceller := common.HexToAddress(req.Canceller)
	sig, err := parseSignature(req.Signature)
	if err != nil {
		respondOp(w, "", err)
		return
	}
	offerHash := common.HexToHash(req.OfferHash)

	iv, err := s.env.NewInvocation(canceller, nil)
	if err != nil {
		respondOp(w, "", err)
		return
	}
	if err := s.engine.CancelOffer(iv, offerHash, terms, canceller, sig); err != nil {
		respondOp(w, "", err)
		return
	}
	log.Printf("[api] offer cancelled: %s by %s", offerHash.Hex(), canceller.Hex())
	respondOp(w, offerHash.Hex(), nil)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondOp(w, "", err)
		return
	}
	if !common.IsHexAddress(req.Holder) || !common.IsHexAddress(req.Destination) {
		respondOp(w, "", errors.New("invalid holder or destination address"))
		return
	}
	holder := common.HexToAddress(req.Holder)
	amount := parseOptionalAmount(req.Amount)
	sig, err := parseSignature(req.Signature)
	if err != nil {
		respondOp(w, "", err)
		return
	}

	iv, err := s.env.NewInvocation(holder, nil)
	if err != nil {
		respondOp(w, "", err)
		return
	}
	err = s.engine.WithdrawAssets(iv, holder, req.Asset.parse(), common.HexToAddress(req.Destination), amount, sig)
	if err != nil {
		respondOp(w, "", err)
		return
	}
	log.Printf("[api] withdrawal: holder=%s asset=%s", holder.Hex(), req.Asset.ID)
	respondOp(w, "", nil)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondOp(w, "", err)
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondOp(w, "", errors.New("invalid address"))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		respondOp(w, "", errors.New("invalid amount"))
		return
	}
	s.env.Mint(ledger.AssetID(req.Asset), common.HexToAddress(req.Address), amount)
	log.Printf("[api] faucet: %s %s -> %s", amount, req.Asset, req.Address)
	respondOp(w, "", nil)
}

// ==============================
// Query handlers
// ==============================

func (s *Server) handleQueryOffers(w http.ResponseWriter, r *http.Request) {
	offerAsset := r.URL.Query().Get("offerAsset")
	wantAsset := r.URL.Query().Get("wantAsset")
	if offerAsset == "" || wantAsset == "" {
		respondError(w, http.StatusBadRequest, "offerAsset and wantAsset are required")
		return
	}

	offers := s.engine.QueryOffers(ledger.AssetID(offerAsset), ledger.AssetID(wantAsset))
	out := make([]OfferInfo, len(offers))
	for i, o := range offers {
		out[i] = OfferInfo{Hash: o.Hash.Hex(), Maker: o.Maker.Hex(), Filled: o.Filled.String()}
	}
	respondJSON(w, out)
}

func (s *Server) handleOfferDetails(w http.ResponseWriter, r *http.Request) {
	hash := common.HexToHash(mux.Vars(r)["hash"])
	data := s.engine.QueryOfferDetails(hash)
	if data == nil {
		// Absent and terminal offers look identical from outside.
		respondJSON(w, map[string]string{"hash": hash.Hex(), "record": ""})
		return
	}
	respondJSON(w, map[string]string{"hash": hash.Hex(), "record": "0x" + hex.EncodeToString(data)})
}

func (s *Server) handleBalanceHistory(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address")
		return
	}
	changes := s.engine.Ledger().Changes(common.HexToAddress(addressStr))
	out := make([]BalanceChangeInfo, len(changes))
	for i, c := range changes {
		out[i] = BalanceChangeInfo{Asset: string(c.Asset), Amount: c.Amount.String(), Reason: string(c.Reason)}
	}
	respondJSON(w, out)
}

func (s *Server) handleNetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addressStr := vars["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address")
		return
	}
	addr := common.HexToAddress(addressStr)
	asset := ledger.AssetID(vars["asset"])
	respondJSON(w, BalanceInfo{
		Address: addr.Hex(),
		Asset:   string(asset),
		Net:     s.engine.Ledger().NetBalance(addr, asset).String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func parseSignature(s string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, errors.New("signature is not hex")
	}
	if len(sig) != 65 {
		return nil, errors.New("signature must be 65 bytes")
	}
	return sig, nil
}

// parseOptionalAmount treats empty or malformed input as "withdraw all"
// (nil); the engine resolves nil to the full net balance.
func parseOptionalAmount(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil
	}
	return v
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func respondOp(w http.ResponseWriter, offerHash string, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		json.NewEncoder(w).Encode(OpResponse{OK: false, Error: err.Error()})
		return
	}
	json.NewEncoder(w).Encode(OpResponse{OK: true, OfferHash: offerHash})
}
