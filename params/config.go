package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/gridsingularity/gsy-e-sub006/pkg/fees"
	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

type Market struct {
	GridFeeType fees.Type
	// GridFeeRate is the default fee of every market; currency/kWh for
	// constant fees, a fraction for percentage fees.
	GridFeeRate float64
	MinOfferAge int // ticks before an offer may be forwarded
	MinBidAge   int
	MarketType  market.Type
	// ClearingInterval is the pay-as-clear batching window, in ticks.
	ClearingInterval int
}

type Simulation struct {
	Seed         int64
	Start        time.Time
	SlotLength   time.Duration
	TicksPerSlot int
	Slots        int // slots to simulate; 0 runs until stopped
	// FutureSlots > 0 keeps that many future markets open per area.
	FutureSlots int
	// SettlementSlots > 0 keeps settlement markets of that many past slots open.
	SettlementSlots int
	// KeepPastMarkets retains closed spot markets instead of purging them.
	KeepPastMarkets bool

	Neighborhoods         int
	HousesPerNeighborhood int
}

type Node struct {
	Transport  string // none | local | libp2p
	ListenAddr string
	Topic      string
	APIAddr    string
	DataDir    string
	LogFile    string
	Bootstrap  []string // libp2p peers to dial at startup
	Debug      bool
	// TickInterval paces the demo node in wall-clock time.
	TickInterval time.Duration
}

// Config is an immutable value. Reconfigure with With, which returns a
// modified copy.
type Config struct {
	Market     Market
	Simulation Simulation
	Node       Node
}

func Default() Config {
	return Config{
		Market: Market{
			GridFeeType:      fees.ConstantType,
			GridFeeRate:      0,
			MinOfferAge:      1,
			MinBidAge:        1,
			MarketType:       market.TwoSided,
			ClearingInterval: 3,
		},
		Simulation: Simulation{
			Seed:                  1,
			Start:                 time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			SlotLength:            15 * time.Minute,
			TicksPerSlot:          10,
			Neighborhoods:         2,
			HousesPerNeighborhood: 2,
		},
		Node: Node{
			Transport:    "none",
			ListenAddr:   "/ip4/0.0.0.0/tcp/0",
			Topic:        "gsy-market-records",
			APIAddr:      ":8080",
			DataDir:      "data",
			TickInterval: 200 * time.Millisecond,
		},
	}
}

// With returns a copy of c changed by fn. c itself is never modified.
func (c Config) With(fn func(*Config)) Config {
	next := c
	fn(&next)
	return next
}

func (c Config) Validate() error {
	if c.Market.GridFeeRate < 0 {
		return fmt.Errorf("grid fee rate must not be negative, got %v", c.Market.GridFeeRate)
	}
	if c.Market.MinOfferAge < 0 || c.Market.MinBidAge < 0 {
		return fmt.Errorf("minimum order ages must not be negative")
	}
	if c.Market.MarketType == market.PayAsClear && c.Market.ClearingInterval <= 0 {
		return fmt.Errorf("pay-as-clear needs a positive clearing interval")
	}
	if c.Simulation.SlotLength <= 0 || c.Simulation.TicksPerSlot <= 0 {
		return fmt.Errorf("slot length and ticks per slot must be positive")
	}
	if c.Simulation.FutureSlots < 0 || c.Simulation.SettlementSlots < 0 {
		return fmt.Errorf("future and settlement slot counts must not be negative")
	}
	switch c.Node.Transport {
	case "none", "local", "libp2p":
	default:
		return fmt.Errorf("unknown transport %q", c.Node.Transport)
	}
	return nil
}

// TickLength is the simulated time one tick covers.
func (c Config) TickLength() time.Duration {
	return c.Simulation.SlotLength / time.Duration(c.Simulation.TicksPerSlot)
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("GRID_FEE_TYPE"); v != "" {
		t, err := fees.ParseType(v)
		if err != nil {
			return cfg, err
		}
		cfg.Market.GridFeeType = t
	}
	if v := os.Getenv("GRID_FEE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("GRID_FEE_RATE: %w", err)
		}
		cfg.Market.GridFeeRate = f
	}
	if v := os.Getenv("MARKET_TYPE"); v != "" {
		t, err := market.ParseType(strings.ToLower(v))
		if err != nil {
			return cfg, err
		}
		cfg.Market.MarketType = t
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MIN_OFFER_AGE", &cfg.Market.MinOfferAge},
		{"MIN_BID_AGE", &cfg.Market.MinBidAge},
		{"CLEARING_INTERVAL", &cfg.Market.ClearingInterval},
		{"TICKS_PER_SLOT", &cfg.Simulation.TicksPerSlot},
		{"SIM_SLOTS", &cfg.Simulation.Slots},
		{"FUTURE_SLOTS", &cfg.Simulation.FutureSlots},
		{"SETTLEMENT_SLOTS", &cfg.Simulation.SettlementSlots},
		{"NEIGHBORHOODS", &cfg.Simulation.Neighborhoods},
		{"HOUSES_PER_NEIGHBORHOOD", &cfg.Simulation.HousesPerNeighborhood},
	}
	for _, it := range ints {
		if v := os.Getenv(it.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", it.key, err)
			}
			*it.dst = n
		}
	}

	if v := os.Getenv("SIM_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("SIM_SEED: %w", err)
		}
		cfg.Simulation.Seed = n
	}
	if v := os.Getenv("SLOT_LENGTH_MIN"); v != "" {
		if m, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.SlotLength = time.Duration(m) * time.Minute
		}
	}
	if v := os.Getenv("TICK_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Node.TickInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("KEEP_PAST_MARKETS"); v != "" {
		cfg.Simulation.KeepPastMarkets = v == "true"
	}

	cfg.Node.Transport = getEnv("TRANSPORT", cfg.Node.Transport)
	cfg.Node.ListenAddr = getEnv("LISTEN_ADDR", cfg.Node.ListenAddr)
	cfg.Node.Topic = getEnv("TRANSPORT_TOPIC", cfg.Node.Topic)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	if v := os.Getenv("BOOTSTRAP_PEERS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Node.Bootstrap = append(cfg.Node.Bootstrap, p)
			}
		}
	}
	cfg.Node.Debug = getEnv("DEBUG", "") == "true"

	return cfg, cfg.Validate()
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
