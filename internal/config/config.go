package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "phishguard"

	// DefaultListenAddress is where serve listens when neither --listen nor
	// $PORT is set.
	DefaultListenAddress = ":8002"

	// DefaultDevice is reported by /health when the sidecars do not say.
	DefaultDevice = "cpu"

	// DefaultThreshold is the decision threshold of a modality without a
	// calibrated threshold file.
	DefaultThreshold = 0.5

	// DefaultScorerTimeout bounds one request to a model sidecar.
	DefaultScorerTimeout = 15 * time.Second

	// DefaultCheckRule is the confidence rule of the single-modality checks.
	DefaultCheckRule = "ratio"

	// DefaultAnalysisRule is the confidence rule of full analyses.
	DefaultAnalysisRule = "distance"

	// DefaultFetchTimeout bounds one page fetch.
	DefaultFetchTimeout = 8 * time.Second

	// DefaultUserAgent identifies PhishGuard in HTTP requests.
	DefaultUserAgent = "Mozilla/5.0 (compatible; PhishGuard/1.0; +https://github.com/nao1215/phishguard)"

	// DefaultMaxBodySize limits the response body kept per page.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultFetchRate is the sustained number of outbound fetches per second.
	DefaultFetchRate = 10.0

	// DefaultFetchBurst is the number of fetches allowed at once.
	DefaultFetchBurst = 20

	// DefaultTorProxyAddress is the standard Tor SOCKS5 proxy address.
	DefaultTorProxyAddress = "127.0.0.1:9050"

	// DefaultTorStartupTimeout bounds the bootstrap of the embedded Tor
	// daemon.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultCacheTTL is how long batch results are served from the cache.
	DefaultCacheTTL = time.Hour

	// DefaultConcurrency is the number of URLs a batch analyzes at once.
	DefaultConcurrency = 8

	// DefaultWhoisTimeout bounds one WHOIS query.
	DefaultWhoisTimeout = 5 * time.Second

	// DefaultNewDomainDays is the age below which a domain is reported as
	// newly registered.
	DefaultNewDomainDays = 90

	// DefaultSimilarityDistance is the largest TLSH distance at which two
	// pages count as near-duplicates.
	DefaultSimilarityDistance = 70
)

// Config holds all configuration options for PhishGuard. It is populated
// from defaults, the config file, the environment and CLI flags, then
// passed through the application rather than kept in global state.
type Config struct {
	// ListenAddress is the address serve binds to.
	ListenAddress string

	// Device is the inference device reported by /health and /.
	Device string

	// Verbose enables debug logging.
	Verbose bool

	// JSONLogs switches logging to JSON lines.
	JSONLogs bool

	// ConfigFilePath is the path to the configuration file. If empty, the
	// default locations are searched.
	ConfigFilePath string

	// URLEndpoint, HTMLEndpoint and DOMEndpoint are the base URLs of the
	// model sidecars. An empty endpoint leaves that modality unloaded.
	URLEndpoint  string
	HTMLEndpoint string
	DOMEndpoint  string

	// URLVocabPath is the character vocabulary of the URL model.
	URLVocabPath string

	// TagVocabPath is the tag vocabulary of the DOM model.
	TagVocabPath string

	// URLThresholdPath, HTMLThresholdPath and DOMThresholdPath hold the
	// calibrated thresholds. Empty paths use DefaultThreshold.
	URLThresholdPath  string
	HTMLThresholdPath string
	DOMThresholdPath  string

	// URLMaxLen is the URL sequence length. Zero uses the codec default.
	URLMaxLen int

	// DOMMaxNodes bounds the nodes per DOM graph. Zero uses the codec default.
	DOMMaxNodes int

	// ScorerTimeout bounds one sidecar request.
	ScorerTimeout time.Duration

	// CheckRule and AnalysisRule name the confidence rules.
	CheckRule    string
	AnalysisRule string

	// FetchTimeout bounds one page fetch.
	FetchTimeout time.Duration

	// UserAgent is the User-Agent header sent with fetches.
	UserAgent string

	// MaxBodySize is the maximum response body size in bytes to keep.
	MaxBodySize int64

	// FetchRate and FetchBurst configure the shared fetch limiter.
	// A non-positive rate disables limiting.
	FetchRate  float64
	FetchBurst int

	// EnableTor routes .onion URLs through Tor. Without it .onion pages
	// are reported as unreachable.
	EnableTor bool

	// UseExternalTor uses the proxy at TorProxyAddress instead of starting
	// an embedded Tor daemon.
	UseExternalTor bool

	// TorProxyAddress is the SOCKS5 address of an external Tor proxy.
	TorProxyAddress string

	// TorStartupTimeout bounds the embedded daemon bootstrap.
	TorStartupTimeout time.Duration

	// CacheTTL is the freshness window of cached batch results.
	CacheTTL time.Duration

	// RedisAddress selects the Redis cache backend. Empty keeps results in
	// memory.
	RedisAddress  string
	RedisPassword string
	RedisDB       int

	// Concurrency is the number of URLs a batch analyzes at once.
	Concurrency int

	// DBDir is the directory of the history database.
	DBDir string

	// SaveToDB persists analyses to the history database.
	SaveToDB bool

	// EnableWhois adds domain age explanations to URL verdicts.
	EnableWhois bool

	// WhoisTimeout bounds one WHOIS query.
	WhoisTimeout time.Duration

	// NewDomainDays is the age below which a domain counts as new.
	NewDomainDays int

	// SimilarityDistance is the TLSH distance for near-duplicate pages.
	SimilarityDistance int

	// JSONReport and MarkdownReport select the CLI output format. They are
	// mutually exclusive.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile is the output file path for CLI reports. Empty means
	// stdout.
	ReportFile string

	// XLSXFile receives an Excel export of batch results.
	XLSXFile string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		ListenAddress:      DefaultListenAddress,
		Device:             DefaultDevice,
		ScorerTimeout:      DefaultScorerTimeout,
		CheckRule:          DefaultCheckRule,
		AnalysisRule:       DefaultAnalysisRule,
		FetchTimeout:       DefaultFetchTimeout,
		UserAgent:          DefaultUserAgent,
		MaxBodySize:        DefaultMaxBodySize,
		FetchRate:          DefaultFetchRate,
		FetchBurst:         DefaultFetchBurst,
		TorProxyAddress:    DefaultTorProxyAddress,
		TorStartupTimeout:  DefaultTorStartupTimeout,
		CacheTTL:           DefaultCacheTTL,
		Concurrency:        DefaultConcurrency,
		DBDir:              XDGDataDir(),
		SaveToDB:           true,
		WhoisTimeout:       DefaultWhoisTimeout,
		NewDomainDays:      DefaultNewDomainDays,
		SimilarityDistance: DefaultSimilarityDistance,
	}
}

// XDGDataDir returns the XDG data directory for PhishGuard.
// On Linux: ~/.local/share/phishguard
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for PhishGuard.
// On Linux: ~/.config/phishguard
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGConfigFile returns the config file inside XDGConfigDir.
func XDGConfigFile() string {
	return filepath.Join(XDGConfigDir(), "config.yaml")
}

// Validate checks if the configuration is valid and returns the first
// problem found.
func (c *Config) Validate() error {
	if c.ScorerTimeout <= 0 || c.FetchTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}

	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}

	if c.CacheTTL <= 0 {
		return ErrInvalidCacheTTL
	}

	if c.FetchRate > 0 && c.FetchBurst <= 0 {
		return ErrInvalidFetchBurst
	}

	if c.SaveToDB && c.DBDir == "" {
		return ErrNoDBDir
	}

	return nil
}
