package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mspro-labs/sienna-grabber/internal/models"
)

// ConfigurationError reports a missing or malformed setting. It is always
// returned before any browser or network activity.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
}

// AppConfig holds the run parameters and infrastructure config from env vars.
type AppConfig struct {
	Search     models.SearchParameters
	OutputDir  string
	ConfigPath string // Path to the YAML site config, empty for built-in defaults
	DBPath     string // Enables the inventory ledger when set
	SyncURL    string // Enables the sync upload when set
	Headless   bool
}

// OutputPath is the CSV written for the configured model.
func (c AppConfig) OutputPath() string {
	return filepath.Join(c.OutputDir, c.Search.Model+".csv")
}

// RawPath is the raw JSON snapshot written next to the CSV.
func (c AppConfig) RawPath() string {
	return filepath.Join(c.OutputDir, c.Search.Model+"_raw.json")
}

// SiteConfig holds all target-site specific settings (from YAML).
type SiteConfig struct {
	Mode           string        `yaml:"mode"` // "graphql" or "page"
	SearchURL      string        `yaml:"search_url"`
	GraphQLURL     string        `yaml:"graphql_url"`
	MaxPages       int           `yaml:"max_pages"`
	PageDelay      time.Duration `yaml:"page_delay"`
	HeaderRefresh  time.Duration `yaml:"header_refresh"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	StrictVIN      bool          `yaml:"strict_vin"`
	RawSnapshot    bool          `yaml:"raw_snapshot"`
	Selectors      Selectors     `yaml:"selectors"`
	// Fields maps canonical listing keys to dotted paths in the GraphQL
	// vehicle summary (or to selectors in page mode).
	Fields map[string]string `yaml:"fields"`
}

type Selectors struct {
	ZipInput    string `yaml:"zip_input"`
	ListingWait string `yaml:"listing_wait"`
	NoResults   string `yaml:"no_results"`
	ListingRow  string `yaml:"listing_row"`
}

const (
	ModeGraphQL = "graphql"
	ModePage    = "page"
)

// DefaultSiteConfig targets the public Toyota inventory search.
func DefaultSiteConfig() *SiteConfig {
	return &SiteConfig{
		Mode:           ModeGraphQL,
		SearchURL:      "https://www.toyota.com/search-inventory/",
		GraphQLURL:     "https://api.search-inventory.toyota.com/graphql",
		MaxPages:       40,
		PageDelay:      10 * time.Second,
		HeaderRefresh:  4 * time.Minute,
		RequestTimeout: 15 * time.Second,
		FetchTimeout:   15 * time.Minute,
		MaxRetries:     3,
		RawSnapshot:    true,
		Selectors: Selectors{
			ZipInput:    `input[placeholder="ZIP Code"]`,
			ListingWait: `[data-testid="vehicle-card"]`,
			NoResults:   `[data-testid="no-results"]`,
			ListingRow:  `[data-testid="vehicle-card"]`,
		},
		Fields: map[string]string{
			models.FieldVIN:            "vin",
			models.FieldPrice:          "price.totalMsrp",
			models.FieldTrim:           "model.marketingName",
			models.FieldMileage:        "mileage",
			models.FieldDealerName:     "dealerMarketingName",
			models.FieldURL:            "dealerWebsite",
			models.FieldYear:           "year",
			models.FieldExteriorColor:  "extColor.marketingName",
			models.FieldInteriorColor:  "intColor.marketingName",
			models.FieldDistance:       "distance",
			models.FieldShippingStatus: "dealerCategory",
			models.FieldOptions:        "options",
		},
	}
}

var (
	reModel = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	reZip   = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
)

// GetAppConfig reads the run parameters and infrastructure settings from
// environment variables. MODEL, ZIPCODE and DISTANCE are required.
func GetAppConfig() (AppConfig, error) {
	return appConfigFrom(os.Getenv)
}

func appConfigFrom(getenv func(string) string) (AppConfig, error) {
	model := strings.TrimSpace(getenv("MODEL"))
	zip := strings.TrimSpace(getenv("ZIPCODE"))
	distance := strings.TrimSpace(getenv("DISTANCE"))

	switch {
	case model == "":
		return AppConfig{}, &ConfigurationError{Key: "MODEL", Reason: "environment variable not set"}
	case !reModel.MatchString(model):
		return AppConfig{}, &ConfigurationError{Key: "MODEL", Reason: fmt.Sprintf("%q is not a model identifier", model)}
	case zip == "":
		return AppConfig{}, &ConfigurationError{Key: "ZIPCODE", Reason: "environment variable not set"}
	case !reZip.MatchString(zip):
		return AppConfig{}, &ConfigurationError{Key: "ZIPCODE", Reason: fmt.Sprintf("%q is not a valid zip code", zip)}
	case distance == "":
		return AppConfig{}, &ConfigurationError{Key: "DISTANCE", Reason: "environment variable not set"}
	}

	miles, err := strconv.Atoi(distance)
	if err != nil || miles <= 0 {
		return AppConfig{}, &ConfigurationError{Key: "DISTANCE", Reason: fmt.Sprintf("%q is not a positive integer", distance)}
	}

	outputDir := getenv("OUTPUT_DIR")
	if outputDir == "" {
		outputDir = "output"
	}

	configPath := getenv("CONFIG_PATH")
	if configPath == "" {
		// Default to looking in the current directory, fall back to built-ins
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		}
	}

	headless := true
	if v := getenv("HEADLESS"); v != "" {
		headless, err = strconv.ParseBool(v)
		if err != nil {
			return AppConfig{}, &ConfigurationError{Key: "HEADLESS", Reason: fmt.Sprintf("%q is not a boolean", v)}
		}
	}

	return AppConfig{
		Search: models.SearchParameters{
			Model:         model,
			ZipCode:       zip,
			DistanceMiles: miles,
		},
		OutputDir:  outputDir,
		ConfigPath: configPath,
		DBPath:     getenv("DB_PATH"),
		SyncURL:    getenv("SYNC_URL"),
		Headless:   headless,
	}, nil
}

// LoadSiteConfig reads the YAML file to configure the fetcher. Settings the
// file leaves out keep their defaults. An empty path returns the defaults.
func LoadSiteConfig(path string) (*SiteConfig, error) {
	cfg := DefaultSiteConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Key: "CONFIG_PATH", Reason: fmt.Sprintf("failed to read config file at '%s': %v", path, err)}
	}

	defaultFields := cfg.Fields
	cfg.Fields = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigurationError{Key: "CONFIG_PATH", Reason: fmt.Sprintf("failed to parse YAML config: %v", err)}
	}
	for k, v := range defaultFields {
		if _, ok := cfg.Fields[k]; !ok {
			if cfg.Fields == nil {
				cfg.Fields = make(map[string]string)
			}
			cfg.Fields[k] = v
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *SiteConfig) validate() error {
	var errs []error
	if c.Mode != ModeGraphQL && c.Mode != ModePage {
		errs = append(errs, fmt.Errorf("mode %q must be %q or %q", c.Mode, ModeGraphQL, ModePage))
	}
	if c.SearchURL == "" {
		errs = append(errs, errors.New("search_url is required"))
	}
	if c.Mode == ModeGraphQL && c.GraphQLURL == "" {
		errs = append(errs, errors.New("graphql_url is required in graphql mode"))
	}
	if c.Mode == ModePage && c.Selectors.ListingRow == "" {
		errs = append(errs, errors.New("selectors.listing_row is required in page mode"))
	}
	if c.MaxPages <= 0 {
		errs = append(errs, errors.New("max_pages must be positive"))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch_timeout must be positive"))
	}
	if c.Fields[models.FieldVIN] == "" {
		errs = append(errs, errors.New("fields.vin is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return &ConfigurationError{Key: "CONFIG_PATH", Reason: err.Error()}
	}
	return nil
}
