package api

import (
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/wastelandfi/wasteland/internal/connector"
	"github.com/wastelandfi/wasteland/internal/hunter"
	"github.com/wastelandfi/wasteland/internal/logging"
	"github.com/wastelandfi/wasteland/internal/presale"
	"github.com/wastelandfi/wasteland/internal/pricing"
	"github.com/wastelandfi/wasteland/internal/referral"
	"github.com/wastelandfi/wasteland/internal/wallet"
	"github.com/wastelandfi/wasteland/pkg/types"
)

// PriceResponse carries both the display breakdown and, for wei input, the
// exact on-chain split. Wei amounts beyond float64 range get no display
// breakdown.
type PriceResponse struct {
	*pricing.PriceBreakdown
	Wei *types.PriceQuote `json:"wei,omitempty"`
}

// LeaderboardResponse is the JSON body of GET /api/v1/hunters
type LeaderboardResponse struct {
	Hunters []hunter.Record `json:"hunters"`
	Count   int             `json:"count"`
	Total   int             `json:"total"`
}

// PresaleResponse adds human-readable figures to the snapshot.
type PresaleResponse struct {
	presale.Snapshot
	TokenPriceEther string `json:"token_price"`
	TotalSoldTokens string `json:"total_sold_tokens"`
}

// ConnectionResponse is the JSON form of the connector state.
type ConnectionResponse struct {
	State         string                  `json:"state"`
	Identity      string                  `json:"identity,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Category      string                  `json:"category,omitempty"`
	RecoverySteps []string                `json:"recovery_steps,omitempty"`
	Endpoints     []wallet.EndpointHealth `json:"endpoints,omitempty"`
}

// HealthResponse is the JSON response for the /health endpoint
type HealthResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	Hunters    int    `json:"hunters"`
	Connection string `json:"connection,omitempty"`
	Version    string `json:"version,omitempty"`
}

func newConnectionResponse(identity string, state connector.State, err error) ConnectionResponse {
	resp := ConnectionResponse{State: state.String(), Identity: identity}
	if err != nil {
		resp.Error = err.Error()
		resp.RecoverySteps = connector.RecoverySteps(err)
		var rec connector.Recoverable
		if errors.As(err, &rec) {
			resp.Category = string(rec.Category())
		}
	}
	return resp
}

// handlePrice handles GET /api/v1/price?gross=..&referral=..
// gross_wei may be given instead of gross for an exact split.
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	referralActive := false
	if v := q.Get("referral"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "referral must be true or false")
			return
		}
		referralActive = b
	}

	calc := s.calc.Load()
	var resp PriceResponse

	if v := q.Get("gross_wei"); v != "" {
		gross, ok := new(big.Int).SetString(v, 10)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "gross_wei must be an integer")
			return
		}
		b, err := calc.WeiBreakdown(gross, referralActive)
		if err != nil {
			s.writePricingError(w, err)
			return
		}
		quote := b.Quote()
		resp.Wei = &quote
		f, _ := new(big.Float).Quo(new(big.Float).SetInt(gross), big.NewFloat(1e18)).Float64()
		if math.IsInf(f, 0) {
			s.observePrice(referralActive)
			s.writeJSON(w, http.StatusOK, resp)
			return
		}
		q.Set("gross", strconv.FormatFloat(f, 'f', -1, 64))
	}

	gross, err := strconv.ParseFloat(q.Get("gross"), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "gross must be a number")
		return
	}
	breakdown, err := calc.CalculatePriceStructure(gross, referralActive)
	if err != nil {
		s.writePricingError(w, err)
		return
	}
	resp.PriceBreakdown = &breakdown

	s.observePrice(referralActive)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) observePrice(referralActive bool) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObservePrice(referralActive)
	}
}

func (s *Server) writePricingError(w http.ResponseWriter, err error) {
	var cfgErr *pricing.InvalidConfigurationError
	if errors.As(err, &cfgErr) {
		logging.Error("pricing misconfigured", logging.Err(err), logging.Component("api"))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeError(w, http.StatusBadRequest, err.Error())
}

// handleStanding handles GET /api/v1/hunters/{address}
func (s *Server) handleStanding(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Referral.Standing(r.Context(), r.PathValue("address"))
	if err != nil {
		s.writeReferralError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// handleRecordOutcome handles POST /api/v1/hunters/{address}/outcomes
func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var o hunter.Outcome
	if err := dec.Decode(&o); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := s.deps.Referral.RecordOutcome(r.Context(), r.PathValue("address"), o)
	if err != nil {
		s.writeReferralError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleLeaderboard handles GET /api/v1/hunters?limit=
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := s.deps.Referral.Leaderboard(r.Context(), limit)
	if err != nil {
		s.writeReferralError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, LeaderboardResponse{
		Hunters: recs,
		Count:   len(recs),
		Total:   s.deps.Referral.Count(),
	})
}

func (s *Server) writeReferralError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, referral.ErrInvalidAddress), errors.Is(err, referral.ErrInvalidOutcome):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Error("referral request failed", logging.Err(err), logging.Component("api"))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handlePresale handles GET /api/v1/presale
func (s *Server) handlePresale(w http.ResponseWriter, r *http.Request) {
	if s.deps.Presale == nil {
		s.writeError(w, http.StatusServiceUnavailable, "presale not configured")
		return
	}
	snap := s.deps.Presale.Snapshot()
	if snap.UpdatedAt.IsZero() {
		msg := "presale not loaded yet"
		if snap.Error != "" {
			msg += ": " + snap.Error
		}
		s.writeError(w, http.StatusServiceUnavailable, msg)
		return
	}
	s.writeJSON(w, http.StatusOK, PresaleResponse{
		Snapshot:        snap,
		TokenPriceEther: pricing.FormatEther(snap.TokenPrice),
		TotalSoldTokens: pricing.FormatEther(snap.TotalSold),
	})
}

// handleConnection handles GET /api/v1/connection
func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	if s.deps.Connector == nil {
		s.writeError(w, http.StatusServiceUnavailable, "wallet connector not configured")
		return
	}
	state, err := s.deps.Connector.State()
	resp := newConnectionResponse(s.deps.Connector.Identity(), state, err)
	if s.deps.Endpoints != nil {
		resp.Endpoints = s.deps.Endpoints.Snapshot()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		s.writeError(w, http.StatusServiceUnavailable, "metrics disabled")
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Metrics.Stats().Summary())
}

// handleHealth handles GET /health. A failed wallet connection degrades the
// status but the API itself stays up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Uptime:  s.now().Sub(s.started).Round(time.Second).String(),
		Hunters: s.deps.Referral.Count(),
		Version: s.deps.Version,
	}
	if s.deps.Connector != nil {
		state, _ := s.deps.Connector.State()
		resp.Connection = state.String()
		if state == connector.StateFailed {
			resp.Status = "degraded"
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
