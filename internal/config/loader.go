package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "pcbinspect"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "PCBINSPECT"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader over v. A nil v uses the global viper instance, so
// flags bound with viper.BindPFlag take effect.
func NewLoader(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.GetViper()
	}
	return &Loader{v: v}
}

// Load reads configFile, or searches the standard paths when it is empty,
// applies environment overrides and defaults, and validates the result.
func (l *Loader) Load(configFile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the config file read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
	}
	l.v.AddConfigPath("/etc/pcbinspect")
}

// setupEnvironmentVariables maps PCBINSPECT_SERVER_PORT to server.port and so on.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so that environment overrides resolve.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	l.v.SetDefault("layouts.dir", d.Layouts.Dir)

	a := d.Alignment
	l.v.SetDefault("alignment.strategies", a.Strategies)

	l.v.SetDefault("alignment.contour.substrate.hue_min", a.Contour.Substrate.HueMin)
	l.v.SetDefault("alignment.contour.substrate.hue_max", a.Contour.Substrate.HueMax)
	l.v.SetDefault("alignment.contour.substrate.sat_min", a.Contour.Substrate.SatMin)
	l.v.SetDefault("alignment.contour.substrate.sat_max", a.Contour.Substrate.SatMax)
	l.v.SetDefault("alignment.contour.substrate.val_min", a.Contour.Substrate.ValMin)
	l.v.SetDefault("alignment.contour.substrate.val_max", a.Contour.Substrate.ValMax)
	l.v.SetDefault("alignment.contour.min_area_fraction", a.Contour.MinAreaFraction)
	l.v.SetDefault("alignment.contour.epsilons", a.Contour.Epsilons)
	l.v.SetDefault("alignment.contour.min_vertex_dist", a.Contour.MinVertexDist)
	l.v.SetDefault("alignment.contour.min_diag_ratio", a.Contour.MinDiagRatio)
	l.v.SetDefault("alignment.contour.min_side_ratio", a.Contour.MinSideRatio)
	l.v.SetDefault("alignment.contour.aspect_min", a.Contour.AspectMin)
	l.v.SetDefault("alignment.contour.aspect_max", a.Contour.AspectMax)
	l.v.SetDefault("alignment.contour.kernel_size", a.Contour.KernelSize)
	l.v.SetDefault("alignment.contour.hole_offset", a.Contour.HoleOffset)

	l.v.SetDefault("alignment.circle.roi_width", a.Circle.ROIWidth)
	l.v.SetDefault("alignment.circle.roi_height", a.Circle.ROIHeight)
	l.v.SetDefault("alignment.circle.blur_size", a.Circle.BlurSize)
	l.v.SetDefault("alignment.circle.dp", a.Circle.DP)
	l.v.SetDefault("alignment.circle.min_dist", a.Circle.MinDist)
	l.v.SetDefault("alignment.circle.param1", a.Circle.Param1)
	l.v.SetDefault("alignment.circle.param2", a.Circle.Param2)
	l.v.SetDefault("alignment.circle.min_radius", a.Circle.MinRadius)
	l.v.SetDefault("alignment.circle.max_radius", a.Circle.MaxRadius)

	l.v.SetDefault("alignment.edge.threshold_top", a.Edge.ThresholdTop)
	l.v.SetDefault("alignment.edge.threshold_bottom", a.Edge.ThresholdBottom)
	l.v.SetDefault("alignment.edge.threshold_left", a.Edge.ThresholdLeft)
	l.v.SetDefault("alignment.edge.threshold_right", a.Edge.ThresholdRight)
	l.v.SetDefault("alignment.edge.bottom_offset", a.Edge.BottomOffset)
	l.v.SetDefault("alignment.edge.band_depth", a.Edge.BandDepth)
	l.v.SetDefault("alignment.edge.band_margin", a.Edge.BandMargin)
	l.v.SetDefault("alignment.edge.scan_step", a.Edge.ScanStep)
	l.v.SetDefault("alignment.edge.min_hits_per_edge", a.Edge.MinHitsPerEdge)

	l.v.SetDefault("alignment.visibility.ratio_min", a.Visibility.RatioMin)
	l.v.SetDefault("alignment.visibility.ratio_max", a.Visibility.RatioMax)
	l.v.SetDefault("alignment.visibility.area_check", a.Visibility.AreaCheck)
	l.v.SetDefault("alignment.visibility.min_area_fraction", a.Visibility.MinAreaFraction)

	l.v.SetDefault("alignment.template.method", a.Template.Method)
	l.v.SetDefault("alignment.template.threshold", a.Template.Threshold)

	l.v.SetDefault("verify.position_threshold", d.Verify.PositionThreshold)
	l.v.SetDefault("verify.confidence_threshold", d.Verify.ConfidenceThreshold)

	l.v.SetDefault("decision.missing_critical", d.Decision.MissingCritical)
	l.v.SetDefault("decision.misplaced_critical", d.Decision.MisplacedCritical)
	l.v.SetDefault("decision.combined_critical", d.Decision.CombinedCritical)

	l.v.SetDefault("detector.url", d.Detector.URL)
	l.v.SetDefault("detector.timeout", d.Detector.Timeout)

	l.v.SetDefault("ocr.engine", d.OCR.Engine)
	l.v.SetDefault("ocr.url", d.OCR.URL)
	l.v.SetDefault("ocr.timeout", d.OCR.Timeout)

	l.v.SetDefault("actuation.url", d.Actuation.URL)
	l.v.SetDefault("actuation.timeout", d.Actuation.Timeout)
	l.v.SetDefault("actuation.boxes", d.Actuation.Boxes)
	l.v.SetDefault("actuation.slots_per_box", d.Actuation.SlotsPerBox)

	l.v.SetDefault("store.driver", d.Store.Driver)
	l.v.SetDefault("store.dsn", d.Store.DSN)
	l.v.SetDefault("store.queue_size", d.Store.QueueSize)
}
