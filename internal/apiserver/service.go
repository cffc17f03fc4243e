// Package apiserver exposes the read side of the system over HTTP: stored
// orders, oracle prices, the on-chain asset registry, and an attestation
// pre-check endpoint.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/spoutfi/rwa/backend/internal/config"
	"github.com/spoutfi/rwa/backend/internal/engine"
	"github.com/spoutfi/rwa/backend/internal/kyc"
	"github.com/spoutfi/rwa/backend/internal/spout"
	"github.com/spoutfi/rwa/backend/internal/store"
)

type Service struct {
	cfg              config.APIServerConfig
	logger           *slog.Logger
	store            *store.Store
	chain            engine.Chain
	verifier         *kyc.Verifier
	allowAllOrigins  bool
	allowedOriginSet map[string]struct{}
}

func New(cfg config.APIServerConfig, logger *slog.Logger) (*Service, error) {
	st, err := store.NewStore(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	chain := engine.NewRPCChain(engine.ChainConfig{
		RPCURL:     cfg.RPCURL,
		Commitment: cfg.Commitment,
	}, logger)

	allowAllOrigins := false
	allowedOriginSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAllOrigins = true
			continue
		}
		allowedOriginSet[trimmed] = struct{}{}
	}
	if len(allowedOriginSet) == 0 && !allowAllOrigins {
		allowAllOrigins = true
	}

	return &Service{
		cfg:              cfg,
		logger:           logger,
		store:            st,
		chain:            chain,
		verifier:         kyc.NewVerifier(cfg.SASProgramID),
		allowAllOrigins:  allowAllOrigins,
		allowedOriginSet: allowedOriginSet,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/orders", s.handleOrders)
	mux.HandleFunc("/api/v1/orders/", s.handleOrderBySignature)
	mux.HandleFunc("/api/v1/price", s.handlePrice)
	mux.HandleFunc("/api/v1/asset", s.handleAsset)
	mux.HandleFunc("/api/v1/kyc/verify", s.handleKycVerify)
	mux.HandleFunc("/ws", s.handleWebsocket)

	handler := s.withCORS(mux)
	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	s.logger.Info("api-server started",
		"listen_addr", s.cfg.ListenAddr,
		"program", s.cfg.ProgramID,
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
	)

	select {
	case <-ctx.Done():
		s.logger.Info("api-server stopping")
		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown api-server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Limit int `json:"limit"`
}

type healthResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true})
}

func (s *Service) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.store.ListOrders(r.Context(), store.OrderFilter{
		User:   strings.TrimSpace(r.URL.Query().Get("user")),
		Ticker: strings.TrimSpace(r.URL.Query().Get("ticker")),
		Status: strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))),
		Limit:  limit,
	})
	if err != nil {
		s.logger.Error("list orders failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if items == nil {
		items = []store.OrderView{}
	}

	s.respondJSON(w, http.StatusOK, listResponse[store.OrderView]{Items: items, Limit: limit})
}

func (s *Service) handleOrderBySignature(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	signature := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/v1/orders/"))
	if signature == "" || strings.Contains(signature, "/") {
		s.respondError(w, http.StatusBadRequest, "order signature is required")
		return
	}

	order, err := s.store.GetOrder(r.Context(), signature)
	if err != nil {
		s.logger.Error("get order failed", "signature", signature, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to get order")
		return
	}
	if order == nil {
		s.respondError(w, http.StatusNotFound, "order not found")
		return
	}
	s.respondJSON(w, http.StatusOK, order)
}

type priceFeedView struct {
	Price      uint64 `json:"price"`
	Confidence uint64 `json:"confidence"`
	Expo       int32  `json:"expo"`
	Timestamp  int64  `json:"timestamp"`
}

type priceResponse struct {
	Feed *priceFeedView       `json:"feed,omitempty"`
	Tick *store.PriceTickView `json:"tick,omitempty"`
}

// handlePrice reports the on-chain feed record and, when a feed id is given,
// the freshest journaled Hermes observation.
func (s *Service) handlePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	var out priceResponse

	feed, err := s.fetchPriceFeed(r.Context())
	if err != nil {
		s.logger.Warn("failed to fetch on-chain price feed", "err", err)
	} else if feed != nil {
		out.Feed = &priceFeedView{
			Price:      feed.Price,
			Confidence: feed.Confidence,
			Expo:       feed.Expo,
			Timestamp:  feed.Timestamp,
		}
	}

	feedID := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("feed_id")))
	if feedID != "" {
		tick, err := s.store.LatestPriceTick(r.Context(), feedID)
		if err != nil {
			s.logger.Error("latest price tick failed", "feed_id", feedID, "err", err)
			s.respondError(w, http.StatusInternalServerError, "failed to load price tick")
			return
		}
		out.Tick = tick
	}

	if out.Feed == nil && out.Tick == nil {
		s.respondError(w, http.StatusNotFound, "no price available")
		return
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Service) fetchPriceFeed(ctx context.Context) (*spout.PriceFeed, error) {
	feedKey, _, err := spout.DerivePriceFeedPDA(s.cfg.ProgramID)
	if err != nil {
		return nil, err
	}
	account, err := s.chain.FetchAccount(ctx, feedKey)
	if err != nil {
		return nil, err
	}
	if len(account.Data) == 0 {
		return nil, nil
	}
	return spout.ParsePriceFeed(account.Data)
}

type assetResponse struct {
	Mint        string `json:"mint"`
	Issuer      string `json:"issuer"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	TotalSupply uint64 `json:"totalSupply"`
	KycRequired bool   `json:"kycRequired"`
	KycSchemaID string `json:"kycSchemaId,omitempty"`
}

func (s *Service) handleAsset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	mint, err := parsePubkeyParam(r, "mint")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	assetKey, _, err := spout.DeriveAssetPDA(s.cfg.ProgramID, mint)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to derive asset address")
		return
	}
	account, err := s.chain.FetchAccount(r.Context(), assetKey)
	if err != nil {
		s.logger.Error("fetch asset failed", "mint", mint, "err", err)
		s.respondError(w, http.StatusBadGateway, "failed to fetch asset account")
		return
	}
	if len(account.Data) == 0 {
		s.respondError(w, http.StatusNotFound, "asset not found")
		return
	}
	asset, err := spout.ParseAsset(account.Data)
	if err != nil {
		s.logger.Error("decode asset failed", "mint", mint, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to decode asset account")
		return
	}

	out := assetResponse{
		Mint:        asset.Mint.String(),
		Issuer:      asset.Issuer.String(),
		Name:        asset.Name,
		Symbol:      asset.Symbol,
		TotalSupply: asset.TotalSupply,
		KycRequired: asset.KycRequired,
	}
	if asset.KycSchemaID != nil {
		out.KycSchemaID = *asset.KycSchemaID
	}
	s.respondJSON(w, http.StatusOK, out)
}

type kycVerifyRequest struct {
	Holder string `json:"holder"`
	Mint   string `json:"mint"`
}

type kycVerifyResponse struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
	SchemaID string `json:"schemaId,omitempty"`
	Expiry   int64  `json:"expiry,omitempty"`
}

// handleKycVerify runs the full attestation check off-chain so callers can
// learn whether a transfer would pass before paying for a transaction.
func (s *Service) handleKycVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}

	var req kycVerifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	holder, err := solana.PublicKeyFromBase58(strings.TrimSpace(req.Holder))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid holder")
		return
	}
	mint, err := solana.PublicKeyFromBase58(strings.TrimSpace(req.Mint))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid mint")
		return
	}

	out, err := s.verifyHolder(r.Context(), holder, mint)
	if err != nil {
		if kyc.Denied(err) {
			s.respondJSON(w, http.StatusOK, kycVerifyResponse{Verified: false, Reason: err.Error()})
			return
		}
		if errors.Is(err, engine.ErrAssetNotFound) {
			s.respondError(w, http.StatusNotFound, "asset not found")
			return
		}
		s.logger.Error("kyc verify failed", "holder", holder, "mint", mint, "err", err)
		s.respondError(w, http.StatusBadGateway, "failed to verify holder")
		return
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Service) verifyHolder(ctx context.Context, holder, mint solana.PublicKey) (kycVerifyResponse, error) {
	assetKey, _, err := spout.DeriveAssetPDA(s.cfg.ProgramID, mint)
	if err != nil {
		return kycVerifyResponse{}, fmt.Errorf("derive asset PDA: %w", err)
	}
	account, err := s.chain.FetchAccount(ctx, assetKey)
	if err != nil {
		return kycVerifyResponse{}, err
	}
	if len(account.Data) == 0 {
		return kycVerifyResponse{}, fmt.Errorf("%w: %s", engine.ErrAssetNotFound, assetKey)
	}
	asset, err := spout.ParseAsset(account.Data)
	if err != nil {
		return kycVerifyResponse{}, fmt.Errorf("decode asset %s: %w", assetKey, err)
	}

	if !asset.KycRequired {
		return kycVerifyResponse{Verified: true, Reason: "asset does not require kyc"}, nil
	}
	if asset.KycSchemaID == nil || *asset.KycSchemaID == "" {
		return kycVerifyResponse{}, engine.ErrKycRequired
	}
	schemaID := *asset.KycSchemaID

	accounts, err := engine.FetchKycAccounts(ctx, s.chain, s.verifier.Program(), holder, schemaID)
	if err != nil {
		return kycVerifyResponse{}, err
	}
	result, err := s.verifier.Verify(kyc.Request{
		Holder:           holder,
		RequiredSchemaID: schemaID,
		Attestation:      accounts.Attestation,
		Credential:       accounts.Credential,
		Schema:           accounts.Schema,
		Now:              s.chain.Now(ctx),
	})
	if err != nil {
		return kycVerifyResponse{}, err
	}
	return kycVerifyResponse{
		Verified: true,
		SchemaID: schemaID,
		Expiry:   result.Attestation.Expiry,
	}, nil
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			allowed := s.allowAllOrigins
			if !allowed {
				_, allowed = s.allowedOriginSet[origin]
			}

			if allowed {
				if s.allowAllOrigins {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "300")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Service) isOriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	if s.allowAllOrigins {
		return true
	}
	_, ok := s.allowedOriginSet[origin]
	return ok
}

func parsePubkeyParam(r *http.Request, key string) (solana.PublicKey, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return solana.PublicKey{}, fmt.Errorf("%s is required", key)
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return pk, nil
}

func parseOptionalInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func (s *Service) respondMethodNotAllowed(w http.ResponseWriter) {
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
