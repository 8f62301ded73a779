// Package api serves a REST and WebSocket view of a running simulation:
// its areas, markets, order books and trades. Device orders posted here
// are queued for the coordinator's next tick.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
	"github.com/gridsingularity/gsy-e-sub006/pkg/sim"
	"github.com/gridsingularity/gsy-e-sub006/pkg/storage"
	"github.com/gridsingularity/gsy-e-sub006/pkg/util"
)

const defaultTradeLimit = 50

// Server handles REST API and WebSocket connections
type Server struct {
	sim    *sim.Coordinator
	store  storage.TradeStore
	log    *zap.SugaredLogger
	router *mux.Router
	hub    *Hub

	allowedOrigins []string
}

type Option func(*Server)

// WithTradeStore serves area trade history from a store instead of the
// in-memory ledger.
func WithTradeStore(s storage.TradeStore) Option {
	return func(srv *Server) { srv.store = s }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(srv *Server) { srv.log = log }
}

func WithAllowedOrigins(origins ...string) Option {
	return func(srv *Server) { srv.allowedOrigins = origins }
}

// NewServer builds the routes and subscribes the server to every market
// event of c, so it must be called before c's first tick.
func NewServer(c *sim.Coordinator, opts ...Option) *Server {
	s := &Server{
		sim:            c,
		router:         mux.NewRouter(),
		allowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = util.OrNop(s.log)
	s.hub = NewHub(s.log)
	s.setupRoutes()
	c.Observe(s)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/areas", s.handleGetAreas).Methods("GET")
	api.HandleFunc("/areas/{area}/trades", s.handleGetAreaTrades).Methods("GET")

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{id}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{id}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{id}/trades", s.handleGetMarketTrades).Methods("GET")

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler is the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) Hub() *Hub { return s.hub }

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// OnMarketEvent pushes trades and order changes to WebSocket subscribers
// of "trades", "trades:<area>" and "orders:<area>".
func (s *Server) OnMarketEvent(ev market.Event) {
	switch ev.Type {
	case market.EventOfferTraded, market.EventBidTraded:
		if ev.Type == market.EventBidTraded && ev.Trade.Offer != nil {
			return
		}
		msg := WSMessage{Type: "trade", Data: tradeInfo(ev.Area, ev.Trade)}
		s.hub.Broadcast(msg, "trades", "trades:"+ev.Area)
	case market.EventOffer, market.EventOfferDeleted:
		s.hub.Broadcast(WSMessage{Type: ev.Type.String(), Data: offerInfo(ev.Offer)}, "orders:"+ev.Area)
	case market.EventBid, market.EventBidDeleted:
		s.hub.Broadcast(WSMessage{Type: ev.Type.String(), Data: bidInfo(ev.Bid)}, "orders:"+ev.Area)
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, SimStatus{
		Tick:        s.sim.CurrentTick(),
		Slot:        s.sim.CurrentSlot(),
		Markets:     s.sim.Registry().Count(),
		Trades:      len(s.sim.Ledger()),
		FeeRevenue:  s.sim.FeeRevenue().String(),
		StateDigest: s.sim.StateDigest().Hex(),
	})
}

func (s *Server) handleGetAreas(w http.ResponseWriter, r *http.Request) {
	tree := s.sim.Tree()
	names := tree.Names()
	out := make([]AreaInfo, 0, len(names))
	for _, n := range names {
		a, _ := tree.Area(n)
		out = append(out, AreaInfo{Name: a.Name, Parent: a.Parent, Children: a.Children})
	}
	respondJSON(w, out)
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	area := r.URL.Query().Get("area")
	kindFilter := r.URL.Query().Get("kind")
	var kind market.Kind
	if kindFilter != "" {
		k, err := market.ParseKind(kindFilter)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid kind", err.Error())
			return
		}
		kind = k
	}

	out := []MarketInfo{}
	for _, m := range s.sim.Registry().Markets() {
		if area != "" && m.Area() != area {
			continue
		}
		if kindFilter != "" && m.Kind() != kind {
			continue
		}
		out = append(out, marketInfo(m))
	}
	respondJSON(w, out)
}

func (s *Server) market(w http.ResponseWriter, r *http.Request) (*market.Market, bool) {
	m, err := s.sim.Registry().Get(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return nil, false
	}
	return m, true
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	if m, ok := s.market(w, r); ok {
		respondJSON(w, marketInfo(m))
	}
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	m, ok := s.market(w, r)
	if !ok {
		return
	}
	snap := OrderbookSnapshot{
		MarketID:  m.ID(),
		Offers:    []OrderInfo{},
		Bids:      []OrderInfo{},
		Timestamp: time.Now().UnixMilli(),
	}
	for _, o := range m.SortedOffers() {
		snap.Offers = append(snap.Offers, offerInfo(o))
	}
	if m.Type().HasBids() {
		for _, b := range m.SortedBids() {
			snap.Bids = append(snap.Bids, bidInfo(b))
		}
	}
	respondJSON(w, snap)
}

func (s *Server) handleGetMarketTrades(w http.ResponseWriter, r *http.Request) {
	m, ok := s.market(w, r)
	if !ok {
		return
	}
	out := []TradeInfo{}
	for _, t := range m.Trades() {
		out = append(out, tradeInfo(m.Area(), t))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetAreaTrades(w http.ResponseWriter, r *http.Request) {
	area := mux.Vars(r)["area"]
	if _, ok := s.sim.Tree().Area(area); !ok {
		respondError(w, http.StatusNotFound, "area not found", area)
		return
	}
	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}

	out := []TradeInfo{}
	if s.store != nil {
		rows, err := s.store.RecentTrades(area, limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "trade store failed", err.Error())
			return
		}
		for _, row := range rows {
			out = append(out, tradeInfoFromRow(row))
		}
		respondJSON(w, out)
		return
	}

	ledger := s.sim.Ledger()
	for i := len(ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if ledger[i].Area == area {
			out = append(out, tradeInfo(area, ledger[i].Trade))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimeSlot.After(out[j].TimeSlot) })
	respondJSON(w, out)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	action, err := s.toAction(req)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(SubmitOrderResponse{Status: "rejected", Message: err.Error()})
		return
	}
	s.sim.Submit(action)
	s.log.Infow("order_queued", "action", action.Kind.String(), "area", action.Area, "id", action.OrderID, "trader", action.Trader.Name)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitOrderResponse{Status: "queued", OrderID: action.OrderID})
}

var errBadOrder = errors.New("bad order")

func (s *Server) toAction(req SubmitOrderRequest) (sim.Action, error) {
	kind, err := sim.ParseActionKind(req.Action)
	if err != nil {
		return sim.Action{}, err
	}
	if _, ok := s.sim.Tree().Area(req.Area); !ok {
		return sim.Action{}, fmt.Errorf("%w: unknown area %q", errBadOrder, req.Area)
	}
	mk, err := market.ParseKind(req.MarketKind)
	if err != nil {
		return sim.Action{}, err
	}

	a := sim.Action{
		Kind:       kind,
		Area:       req.Area,
		MarketKind: mk,
		Slot:       req.TimeSlot,
		OrderID:    req.OrderID,
		Energy:     req.Energy,
		Price:      req.Price,
		Trader:     market.Trader{Name: req.Trader},
	}
	switch kind {
	case sim.ActionDeleteOffer, sim.ActionDeleteBid:
		if a.OrderID == "" {
			return sim.Action{}, fmt.Errorf("%w: orderId is required", errBadOrder)
		}
	default:
		if req.Trader == "" {
			return sim.Action{}, fmt.Errorf("%w: trader is required", errBadOrder)
		}
		if req.Energy <= 0 {
			return sim.Action{}, fmt.Errorf("%w: energy must be positive", errBadOrder)
		}
		if kind != sim.ActionAccept && a.OrderID == "" {
			a.OrderID = uuid.NewString()
		}
	}
	return a, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
