// Package config loads pcbinspect settings from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pcb-inspect/internal/actuation"
	"pcb-inspect/internal/alignment"
	"pcb-inspect/internal/decision"
	"pcb-inspect/internal/detector"
	"pcb-inspect/internal/ocr"
	"pcb-inspect/internal/store"
	"pcb-inspect/internal/verify"
	"pcb-inspect/pkg/geometry"
)

// OCR engines.
const (
	OCREngineTesseract = "tesseract"
	OCREngineHTTP      = "http"
	OCREngineNone      = "none"
)

// StoreDriverNone disables persistence.
const StoreDriverNone = "none"

// Config is the complete service configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`

	Server    ServerConfig     `mapstructure:"server" yaml:"server" json:"server"`
	Layouts   LayoutsConfig    `mapstructure:"layouts" yaml:"layouts" json:"layouts"`
	Alignment alignment.Params `mapstructure:"alignment" yaml:"alignment" json:"alignment"`
	Verify    VerifyConfig     `mapstructure:"verify" yaml:"verify" json:"verify"`
	Decision  decision.Policy  `mapstructure:"decision" yaml:"decision" json:"decision"`
	Detector  DetectorConfig   `mapstructure:"detector" yaml:"detector" json:"detector"`
	OCR       OCRConfig        `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Actuation ActuationConfig  `mapstructure:"actuation" yaml:"actuation" json:"actuation"`
	Store     StoreConfig      `mapstructure:"store" yaml:"store" json:"store"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host" json:"host"`
	Port            int           `mapstructure:"port" yaml:"port" json:"port"`
	MaxUploadMB     int           `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LayoutsConfig locates the reference layout files.
type LayoutsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir" json:"dir"`
}

// VerifyConfig contains component matching thresholds.
type VerifyConfig struct {
	PositionThreshold   float64 `mapstructure:"position_threshold" yaml:"position_threshold" json:"position_threshold"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold" json:"confidence_threshold"`
}

// DetectorConfig points at the component detection service.
type DetectorConfig struct {
	URL     string        `mapstructure:"url" yaml:"url" json:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// OCRConfig selects the serial-label reader.
type OCRConfig struct {
	Engine  string           `mapstructure:"engine" yaml:"engine" json:"engine"`
	URL     string           `mapstructure:"url" yaml:"url" json:"url"`
	Timeout time.Duration    `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Region  geometry.RectInt `mapstructure:"region" yaml:"region" json:"region"`
}

// ActuationConfig points at the line controller. An empty URL logs decisions only.
type ActuationConfig struct {
	URL         string        `mapstructure:"url" yaml:"url" json:"url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Boxes       int           `mapstructure:"boxes" yaml:"boxes" json:"boxes"`
	SlotsPerBox int           `mapstructure:"slots_per_box" yaml:"slots_per_box" json:"slots_per_box"`
}

// StoreConfig selects where inspection records go.
type StoreConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver" json:"driver"`
	DSN       string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	QueueSize int    `mapstructure:"queue_size" yaml:"queue_size" json:"queue_size"`
}

// Enabled reports whether records are persisted.
func (s StoreConfig) Enabled() bool {
	return s.Driver != "" && s.Driver != StoreDriverNone
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxUploadMB:     32,
			ShutdownTimeout: 10 * time.Second,
		},
		Layouts:   LayoutsConfig{Dir: "layouts"},
		Alignment: alignment.DefaultParams(),
		Verify: VerifyConfig{
			PositionThreshold:   verify.DefaultPositionThreshold,
			ConfidenceThreshold: verify.DefaultConfidenceThreshold,
		},
		Decision: decision.DefaultPolicy(),
		Detector: DetectorConfig{
			URL:     "http://127.0.0.1:8000/detect",
			Timeout: detector.DefaultTimeout,
		},
		OCR: OCRConfig{
			Engine:  OCREngineTesseract,
			Timeout: ocr.DefaultTimeout,
		},
		Actuation: ActuationConfig{
			Timeout:     actuation.DefaultTimeout,
			Boxes:       actuation.DefaultBoxes,
			SlotsPerBox: actuation.DefaultSlotsPerBox,
		},
		Store: StoreConfig{
			Driver:    store.DriverSQLite,
			DSN:       "pcbinspect.db",
			QueueSize: store.DefaultQueueSize,
		},
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level: unknown level %q", c.LogLevel))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port: %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, "server.max_upload_mb: must be positive")
	}

	for _, name := range c.Alignment.Strategies {
		if _, err := alignment.NewLocator(name, c.Alignment, nil); err != nil {
			errs = append(errs, "alignment.strategies: "+err.Error())
		}
	}
	if _, err := alignment.ParseMatchMethod(c.Alignment.Template.Method); err != nil {
		errs = append(errs, "alignment.template.method: "+err.Error())
	}
	if t := c.Alignment.Template.Threshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Sprintf("alignment.template.threshold: %g not in [0,1]", t))
	}
	if f := c.Alignment.Contour.MinAreaFraction; f <= 0 || f >= 1 {
		errs = append(errs, fmt.Sprintf("alignment.contour.min_area_fraction: %g not in (0,1)", f))
	}
	if v := c.Alignment.Visibility; v.RatioMin <= 0 || v.RatioMax <= v.RatioMin {
		errs = append(errs, "alignment.visibility: need 0 < ratio_min < ratio_max")
	}

	if c.Verify.PositionThreshold <= 0 {
		errs = append(errs, "verify.position_threshold: must be positive")
	}
	if t := c.Verify.ConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Sprintf("verify.confidence_threshold: %g not in [0,1]", t))
	}

	if c.Decision.MissingCritical <= 0 || c.Decision.MisplacedCritical <= 0 || c.Decision.CombinedCritical <= 0 {
		errs = append(errs, "decision: critical thresholds must be positive")
	}

	switch c.OCR.Engine {
	case OCREngineTesseract, OCREngineNone:
	case OCREngineHTTP:
		if c.OCR.URL == "" {
			errs = append(errs, "ocr.url: required for the http engine")
		}
	default:
		errs = append(errs, fmt.Sprintf("ocr.engine: unknown engine %q", c.OCR.Engine))
	}

	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn: required")
		}
	case "", StoreDriverNone:
	default:
		errs = append(errs, fmt.Sprintf("store.driver: unknown driver %q", c.Store.Driver))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
