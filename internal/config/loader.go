package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".phishguard"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// ModelFile configures one modality in the config file.
type ModelFile struct {
	// Endpoint is the base URL of the model sidecar.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Vocab is the vocabulary JSON file. Unused by the HTML model.
	Vocab string `yaml:"vocab,omitempty"`

	// Threshold is the calibrated threshold JSON file.
	Threshold string `yaml:"threshold,omitempty"`
}

// File represents the structure of the .phishguard configuration file.
// Zero values leave the corresponding Config field untouched.
type File struct {
	Server struct {
		Listen string `yaml:"listen,omitempty"`
		Device string `yaml:"device,omitempty"`
	} `yaml:"server,omitempty"`

	Models struct {
		URL          ModelFile     `yaml:"url,omitempty"`
		HTML         ModelFile     `yaml:"html,omitempty"`
		DOM          ModelFile     `yaml:"dom,omitempty"`
		URLMaxLen    int           `yaml:"url_max_len,omitempty"`
		DOMMaxNodes  int           `yaml:"dom_max_nodes,omitempty"`
		Timeout      time.Duration `yaml:"timeout,omitempty"`
		CheckRule    string        `yaml:"check_rule,omitempty"`
		AnalysisRule string        `yaml:"analysis_rule,omitempty"`
	} `yaml:"models,omitempty"`

	Fetch struct {
		Timeout     time.Duration `yaml:"timeout,omitempty"`
		UserAgent   string        `yaml:"user_agent,omitempty"`
		MaxBodySize int64         `yaml:"max_body_size,omitempty"`
		Rate        float64       `yaml:"rate,omitempty"`
		Burst       int           `yaml:"burst,omitempty"`
		Tor         struct {
			Enabled        *bool         `yaml:"enabled,omitempty"`
			External       *bool         `yaml:"external,omitempty"`
			Proxy          string        `yaml:"proxy,omitempty"`
			StartupTimeout time.Duration `yaml:"startup_timeout,omitempty"`
		} `yaml:"tor,omitempty"`
	} `yaml:"fetch,omitempty"`

	Cache struct {
		TTL   time.Duration `yaml:"ttl,omitempty"`
		Redis struct {
			Address  string `yaml:"address,omitempty"`
			Password string `yaml:"password,omitempty"`
			DB       int    `yaml:"db,omitempty"`
		} `yaml:"redis,omitempty"`
	} `yaml:"cache,omitempty"`

	Batch struct {
		Concurrency int `yaml:"concurrency,omitempty"`
	} `yaml:"batch,omitempty"`

	History struct {
		Dir                string        `yaml:"dir,omitempty"`
		Save               *bool         `yaml:"save,omitempty"`
		Whois              *bool         `yaml:"whois,omitempty"`
		WhoisTimeout       time.Duration `yaml:"whois_timeout,omitempty"`
		NewDomainDays      int           `yaml:"new_domain_days,omitempty"`
		SimilarityDistance int           `yaml:"similarity_distance,omitempty"`
	} `yaml:"history,omitempty"`
}

// LoadConfigFile loads a YAML configuration file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	return &cf, nil
}

// Apply overlays the non-zero values of the file onto cfg.
func (cf *File) Apply(cfg *Config) {
	setString(&cfg.ListenAddress, cf.Server.Listen)
	setString(&cfg.Device, cf.Server.Device)

	m := cf.Models
	setString(&cfg.URLEndpoint, m.URL.Endpoint)
	setString(&cfg.HTMLEndpoint, m.HTML.Endpoint)
	setString(&cfg.DOMEndpoint, m.DOM.Endpoint)
	setString(&cfg.URLVocabPath, m.URL.Vocab)
	setString(&cfg.TagVocabPath, m.DOM.Vocab)
	setString(&cfg.URLThresholdPath, m.URL.Threshold)
	setString(&cfg.HTMLThresholdPath, m.HTML.Threshold)
	setString(&cfg.DOMThresholdPath, m.DOM.Threshold)
	setInt(&cfg.URLMaxLen, m.URLMaxLen)
	setInt(&cfg.DOMMaxNodes, m.DOMMaxNodes)
	setDuration(&cfg.ScorerTimeout, m.Timeout)
	setString(&cfg.CheckRule, m.CheckRule)
	setString(&cfg.AnalysisRule, m.AnalysisRule)

	f := cf.Fetch
	setDuration(&cfg.FetchTimeout, f.Timeout)
	setString(&cfg.UserAgent, f.UserAgent)
	if f.MaxBodySize != 0 {
		cfg.MaxBodySize = f.MaxBodySize
	}
	if f.Rate != 0 {
		cfg.FetchRate = f.Rate
	}
	setInt(&cfg.FetchBurst, f.Burst)
	setBool(&cfg.EnableTor, f.Tor.Enabled)
	setBool(&cfg.UseExternalTor, f.Tor.External)
	setString(&cfg.TorProxyAddress, f.Tor.Proxy)
	setDuration(&cfg.TorStartupTimeout, f.Tor.StartupTimeout)

	setDuration(&cfg.CacheTTL, cf.Cache.TTL)
	setString(&cfg.RedisAddress, cf.Cache.Redis.Address)
	setString(&cfg.RedisPassword, cf.Cache.Redis.Password)
	setInt(&cfg.RedisDB, cf.Cache.Redis.DB)

	setInt(&cfg.Concurrency, cf.Batch.Concurrency)

	h := cf.History
	setString(&cfg.DBDir, h.Dir)
	setBool(&cfg.SaveToDB, h.Save)
	setBool(&cfg.EnableWhois, h.Whois)
	setDuration(&cfg.WhoisTimeout, h.WhoisTimeout)
	setInt(&cfg.NewDomainDays, h.NewDomainDays)
	setInt(&cfg.SimilarityDistance, h.SimilarityDistance)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// FindConfigFile searches for the configuration file in the following order:
//  1. configPath, if specified
//  2. .phishguard in the current directory
//  3. .phishguard in the user's home directory
//  4. config.yaml in the XDG config directory
//
// Returns the path to the configuration file if found, or empty string if
// not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}
	candidates = append(candidates, XDGConfigFile())

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
