// Package api is the request-serving surface: historical data, snapshot
// passthrough, portfolio reads and the fill-event websocket. It never
// reaches into the engine; it shares only the stores and the gateway.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/damian-anslik/cpapi-app/gateway"
	"github.com/damian-anslik/cpapi-app/history"
	"github.com/damian-anslik/cpapi-app/infrastructure/logger"
	"github.com/damian-anslik/cpapi-app/internal/store"
)

// SnapshotSource is the market data call backing /snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context, conids []int64) ([]gateway.SnapshotRow, error)
}

// Server serves the HTTP and websocket surface.
type Server struct {
	history    *history.Service
	portfolios store.PortfolioStore
	quotes     SnapshotSource
	log        *logger.Logger
	hub        *Hub

	router  *mux.Router
	origins []string
	httpSrv *http.Server
}

// NewServer wires the routes.
func NewServer(hist *history.Service, portfolios store.PortfolioStore, quotes SnapshotSource, origins []string, log *logger.Logger) *Server {
	s := &Server{
		history:    hist,
		portfolios: portfolios,
		quotes:     quotes,
		log:        log,
		hub:        NewHub(log),
		router:     mux.NewRouter(),
		origins:    origins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/hmds", s.handleHistory).Methods("GET")
	s.router.HandleFunc("/snapshot", s.handleSnapshot).Methods("GET")
	s.router.HandleFunc("/portfolios/{id}", s.handleGetPortfolio).Methods("GET")
	s.router.HandleFunc("/ws", s.hub.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Hub exposes the fill-event hub so the runner can publish fills.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: c.Handler(s.router),
	}
	s.log.Info("api server starting", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleHistory serves GET /hmds?symbol=X from the cached history
// service. Unknown symbols are a 404.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	snap, err := s.history.Get(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, history.ErrUnknownSymbol) {
			s.writeError(w, http.StatusNotFound, "Symbol not found")
			return
		}
		s.log.Error("history request failed", zap.String("symbol", symbol), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleSnapshot serves GET /snapshot?conids=a,b,c — a raw bid/ask
// passthrough. Rows missing either side are dropped.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("conids")
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "conids is required")
		return
	}
	var conids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid conid: "+part)
			return
		}
		conids = append(conids, id)
	}

	rows, err := s.quotes.Snapshot(r.Context(), conids)
	if err != nil {
		s.log.Error("snapshot request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	prices := make([]SnapshotPrice, 0, len(rows))
	for _, row := range rows {
		if !row.HasBid || !row.HasAsk {
			continue
		}
		prices = append(prices, SnapshotPrice{
			ConID:    row.ConID,
			BidPrice: row.Bid,
			AskPrice: row.Ask,
		})
	}
	s.writeJSON(w, http.StatusOK, prices)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := s.portfolios.GetPortfolio(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "Portfolio not found")
			return
		}
		s.log.Error("portfolio read failed", zap.String("portfolio_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, errorResponse{Detail: detail})
}
