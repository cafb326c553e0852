package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config structs

type Config struct {
	IsDebug bool `yaml:"is_debug"`

	DataDir string `yaml:"data_dir"`

	MySQL  MySQL  `yaml:"mysql"`
	SQLite SQLite `yaml:"sqlite"`
	Redis  Redis  `yaml:"redis"`
	Etcd   Etcd   `yaml:"etcd"`
	Nats   Nats   `yaml:"nats"`
	Grpc   Grpc   `yaml:"grpc"`

	Env Env `yaml:"env"`

	Wallet Wallet `yaml:"wallet"`
}

type MySQL struct {
	Main MySQLServer `yaml:"main"`
}

type MySQLServer struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Pass         string `yaml:"pass"`
	DB           string `yaml:"db"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// SQLite is used for local development when mysql is disabled.
type SQLite struct {
	Path string `yaml:"path"`
}

type Redis struct {
	Main RedisServer `yaml:"main"`
}

type RedisServer struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	Pass    string `yaml:"pass"`
	Timeout int    `yaml:"timeout"`
}

type Etcd struct {
	Main EtcdServer `yaml:"main"`
}

type EtcdServer struct {
	Enable bool   `yaml:"enable"`
	Url    string `yaml:"url"`
}

type Nats struct {
	Url    string `yaml:"url"`
	Stream string `yaml:"stream"` // e.g WALLET
}

type Grpc struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type Env struct {
	XlogMode  string `yaml:"xlog_mode"`
	XlogColor bool   `yaml:"xlog_color"`
}

// Wallet holds the business settings of the wallet core.
type Wallet struct {
	Currencies []Currency `yaml:"currencies"`
	Kyc        Kyc        `yaml:"kyc"`
	Address    Address    `yaml:"address"`

	JournalFile   string        `yaml:"journal_file"`
	ReviewAfter   time.Duration `yaml:"review_after"`   // pending withdrawals without hash older than this are flagged
	SweepInterval time.Duration `yaml:"sweep_interval"` // how often the sweeper runs
	CacheTTL      time.Duration `yaml:"cache_ttl"`      // balance cache ttl, 0 disables the cache

	WithdrawRate  float64 `yaml:"withdraw_rate"` // withdraw requests per second per user
	WithdrawBurst int     `yaml:"withdraw_burst"`
}

// Currency amounts are strings so that they survive yaml without float rounding.
type Currency struct {
	Symbol        string         `yaml:"symbol"`
	Name          string         `yaml:"name"`
	Decimals      int32          `yaml:"decimals"`
	MinDeposit    string         `yaml:"min_deposit"`
	MinWithdraw   string         `yaml:"min_withdraw"`
	MaxWithdraw   string         `yaml:"max_withdraw"`
	WithdrawFee   string         `yaml:"withdraw_fee"`
	Confirmations int            `yaml:"confirmations"`
	Networks      []string       `yaml:"networks"`
	TierLimits    map[int]string `yaml:"tier_limits"` // kyc tier => max single withdrawal
}

type Kyc struct {
	Enabled     bool          `yaml:"enabled"`
	Source      string        `yaml:"source"` // static | redis
	Timeout     time.Duration `yaml:"timeout"`
	DefaultTier int           `yaml:"default_tier"`
	Static      map[int64]int `yaml:"static"` // uid => tier
}

type Address struct {
	Xpubs map[string]string `yaml:"xpubs"` // network => account level extended public key
}

// Global variables

const DEVDATA = "/usr/local/ccwallet/devdata"

var Shared *Config // single instance of the config

var (
	fConfig string // config file path
)

func init() {
	flag.StringVar(&fConfig, "config", "", "specify the config file")
}

// Initialize the Shared config with the given config file path
func Init(configFile string) {
	file, err := os.Open(configFile)
	if err != nil {
		panic(err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	err = decoder.Decode(&Shared)
	if err != nil {
		panic(err)
	}

	Shared.applyDefaults()
	if err := Shared.Validate(); err != nil {
		panic(err)
	}
}

// Initialize the Shared config with the default config file path
func EasyInit() {
	fpath := fConfig
	if fpath == "" {
		fpath = "config/config.yml"
	}

	// if the config file does not exist, use the default config file path
	if _, err := os.Stat(fpath); os.IsNotExist(err) {
		fpath = DEVDATA + "/config.yml"
		printf(fmt.Sprintf("use config: %s (DEVDATA)", fpath))
	} else {
		printf(fmt.Sprintf("use config: %s", fpath))
	}

	// initialize the config
	Init(fpath)
}

func (c *Config) applyDefaults() {
	w := &c.Wallet
	if w.ReviewAfter == 0 {
		w.ReviewAfter = 30 * time.Minute
	}
	if w.SweepInterval == 0 {
		w.SweepInterval = time.Minute
	}
	if w.WithdrawRate == 0 {
		w.WithdrawRate = 1
	}
	if w.WithdrawBurst == 0 {
		w.WithdrawBurst = 5
	}
	if w.JournalFile == "" {
		w.JournalFile = c.DataDir + "/journal/wallet.log"
	}
	if w.Kyc.Source == "" {
		w.Kyc.Source = "static"
	}
	if w.Kyc.Timeout == 0 {
		w.Kyc.Timeout = 2 * time.Second
	}
	if c.Nats.Stream == "" {
		c.Nats.Stream = "WALLET"
	}
}

// Validate rejects configurations the wallet cannot start with.
func (c *Config) Validate() error {
	var errs []error

	seen := map[string]bool{}
	for i, cur := range c.Wallet.Currencies {
		sym := strings.ToUpper(cur.Symbol)
		if sym == "" {
			errs = append(errs, fmt.Errorf("wallet.currencies[%d]: empty symbol", i))
			continue
		}
		if seen[sym] {
			errs = append(errs, fmt.Errorf("wallet.currencies[%d]: duplicated symbol %s", i, sym))
		}
		seen[sym] = true

		if cur.Decimals < 0 || cur.Decimals > 18 {
			errs = append(errs, fmt.Errorf("%s: decimals %d out of range [0,18]", sym, cur.Decimals))
		}
		if len(cur.Networks) == 0 {
			errs = append(errs, fmt.Errorf("%s: no network configured", sym))
		}
		if cur.Confirmations < 0 {
			errs = append(errs, fmt.Errorf("%s: negative confirmations", sym))
		}
	}

	switch c.Wallet.Kyc.Source {
	case "", "static", "redis":
	default:
		errs = append(errs, fmt.Errorf("wallet.kyc.source: unknown source %q", c.Wallet.Kyc.Source))
	}

	if c.Wallet.ReviewAfter < 0 || c.Wallet.SweepInterval < 0 {
		errs = append(errs, errors.New("wallet: durations must not be negative"))
	}

	return errors.Join(errs...)
}

// Print the given string to the standard output
func printf(s string) {
	fmt.Printf("%s %s\n", time.Now().Format("2006/01/02 15:04:05"), s)
}
