package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wallet-analyzer/internal/service"
	"github.com/wallet-analyzer/internal/types"
)

// handleAnalyzePortfolio runs (or serves from cache) a full wallet
// analysis.
// GET /api/v1/portfolio/{chain}/{address}?window=year&refresh=true
func (s *Server) handleAnalyzePortfolio(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	input := &service.AnalyzeInput{
		Address: vars["address"],
		Chain:   types.ChainID(vars["chain"]),
		Window:  types.Window(r.URL.Query().Get("window")),
	}
	if refresh := r.URL.Query().Get("refresh"); refresh != "" {
		force, err := strconv.ParseBool(refresh)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "refresh must be a boolean", nil)
			return
		}
		input.ForceRefresh = force
	}

	portfolio, err := s.analyzer.AnalyzeWallet(r.Context(), input)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, portfolio)
}

// handleGetHistory returns persisted analysis snapshots for a wallet.
// GET /api/v1/portfolio/{chain}/{address}/history?from=2025-01-01&to=2025-06-01
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chain := types.ChainID(vars["chain"])
	if !chain.IsSupported() {
		respondError(w, http.StatusBadRequest, "UNSUPPORTED_CHAIN", "unsupported chain: "+string(chain), nil)
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -90)

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "from must be YYYY-MM-DD", nil)
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "to must be YYYY-MM-DD", nil)
			return
		}
		// Include the whole end day
		to = parsed.AddDate(0, 0, 1)
	}

	snapshots, err := s.history.GetRange(r.Context(), chain, vars["address"], from, to)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"address":   vars["address"],
		"chain":     chain,
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// handleCacheStats reports cache hit/miss counters.
// GET /api/v1/cache/stats
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.cache.Stats())
}
