// Package api provides HTTP handlers for the nonce submitter.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/somnia-chain/nonce-submitter/internal/config"
	"github.com/somnia-chain/nonce-submitter/internal/dispatcher"
	"github.com/somnia-chain/nonce-submitter/internal/metrics"
	"github.com/somnia-chain/nonce-submitter/internal/nonce"
)

// maxBodySize bounds /tx request bodies.
const maxBodySize = 1 << 20

// Nonces is the nonce manager surface the server exposes.
type Nonces interface {
	Address() common.Address
	Next() uint64
	Resync(ctx context.Context, block *big.Int) (uint64, error)
}

// Submitter queues transactions.
type Submitter interface {
	Submit(ctx context.Context, name string, tx *nonce.TxRequest, wait bool) dispatcher.Result
}

// Options holds the server settings.
type Options struct {
	APIKey       string
	WaitReceipts bool          // default for /tx requests that omit "wait"
	TxTimeout    time.Duration // zero means no timeout
}

// Server handles HTTP requests for the nonce submitter.
type Server struct {
	nonces    Nonces
	submitter Submitter
	opts      Options
}

// NewServer creates a new API Server.
func NewServer(nonces Nonces, submitter Submitter, opts Options) *Server {
	return &Server{
		nonces:    nonces,
		submitter: submitter,
		opts:      opts,
	}
}

// txRequest is the body of POST /tx. Numbers accept decimal or 0x hex.
type txRequest struct {
	To    *common.Address       `json:"to"`
	Value *math.HexOrDecimal256 `json:"value"`
	Data  hexutil.Bytes         `json:"data"`
	Gas   math.HexOrDecimal64   `json:"gas"`
	Nonce *math.HexOrDecimal64  `json:"nonce"`
	Wait  *bool                 `json:"wait"`
}

type txResponse struct {
	TxHash      common.Hash `json:"txHash"`
	Nonce       uint64      `json:"nonce"`
	Status      *uint64     `json:"status,omitempty"`
	BlockNumber *big.Int    `json:"blockNumber,omitempty"`
	GasUsed     *uint64     `json:"gasUsed,omitempty"`
}

type nonceResponse struct {
	Address common.Address `json:"address"`
	Next    uint64         `json:"next"`
}

// authenticate checks if the request has a valid API key.
// Returns true if authentication passes (no key configured or valid key provided).
func (s *Server) authenticate(r *http.Request) bool {
	if s.opts.APIKey == "" {
		return true
	}

	// Check Authorization header (Bearer token)
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		const bearerPrefix = "Bearer "
		if len(authHeader) > len(bearerPrefix) && authHeader[:len(bearerPrefix)] == bearerPrefix {
			if authHeader[len(bearerPrefix):] == s.opts.APIKey {
				return true
			}
		}
	}

	// Check X-API-Key header
	if r.Header.Get("X-API-Key") == s.opts.APIKey {
		return true
	}

	// Check apiKey query parameter
	if r.URL.Query().Get("apiKey") == s.opts.APIKey {
		return true
	}

	return false
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// sendError sends an error response.
func sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	w.Write([]byte(message))
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": config.Version,
	})
}

// handleVersion handles the version endpoint.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{
		"version":   config.Version,
		"gitCommit": config.GitCommit,
		"buildTime": config.BuildTime,
	})
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	sendJSON(w, http.StatusOK, nonceResponse{
		Address: s.nonces.Address(),
		Next:    s.nonces.Next(),
	})
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	n, err := s.nonces.Resync(r.Context(), nil)
	if err != nil {
		slog.Error("Nonce resync failed", "error", err)
		sendError(w, http.StatusBadGateway, "Resync failed: "+err.Error())
		return
	}
	sendJSON(w, http.StatusOK, nonceResponse{
		Address: s.nonces.Address(),
		Next:    n,
	})
}

func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req txRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	tx := &nonce.TxRequest{
		To:   req.To,
		Data: req.Data,
		Gas:  uint64(req.Gas),
	}
	if req.Value != nil {
		tx.Value = (*big.Int)(req.Value)
	}
	if req.Nonce != nil {
		tx.SetNonce(uint64(*req.Nonce))
	}
	wait := s.opts.WaitReceipts
	if req.Wait != nil {
		wait = *req.Wait
	}

	ctx := r.Context()
	if s.opts.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TxTimeout)
		defer cancel()
	}

	result := s.submitter.Submit(ctx, "http", tx, wait)
	if result.Err != nil {
		status := http.StatusBadGateway
		if ctx.Err() != nil {
			status = http.StatusGatewayTimeout
		}
		sendError(w, status, "Transaction failed: "+result.Err.Error())
		return
	}

	resp := txResponse{
		TxHash: result.Pending.Hash,
		Nonce:  result.Pending.Nonce,
	}
	if result.Receipt != nil {
		resp.Status = &result.Receipt.Status
		resp.BlockNumber = result.Receipt.BlockNumber
		resp.GasUsed = &result.Receipt.GasUsed
	}
	sendJSON(w, http.StatusOK, resp)
}

// HandleRequest is the main request handler.
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	path := r.URL.Path
	if path == "" {
		path = "/"
	}

	// Wrap response writer to capture status code
	wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	// Handle the request
	s.handleRequestInternal(wrapped, r)

	// Record metrics (skip for /metrics endpoint to avoid recursion)
	if path != "/metrics" {
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(wrapped.statusCode)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	}
}

// handleRequestInternal handles the actual request routing.
func (s *Server) handleRequestInternal(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Request received", "method", r.Method, "url", r.URL.String())

	// Metrics endpoint - no authentication required
	if r.URL.Path == "/metrics" {
		promhttp.Handler().ServeHTTP(w, r)
		return
	}

	// Health and version endpoints don't require authentication
	if r.URL.Path == "/health" {
		s.handleHealth(w, r)
		return
	}

	if r.URL.Path == "/version" {
		s.handleVersion(w, r)
		return
	}

	if !s.authenticate(r) {
		sendError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	switch r.URL.Path {
	case "/nonce":
		s.handleNonce(w, r)
	case "/nonce/resync":
		s.handleResync(w, r)
	case "/tx":
		s.handleTx(w, r)
	default:
		sendError(w, http.StatusNotFound, "Not found")
	}
}
