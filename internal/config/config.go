package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/compress"
	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/interp"
	"github.com/vango-dev/netsync/pkg/netchan"
)

const (
	// ConfigFileName is the name of the JSON configuration file.
	ConfigFileName = "netsync.json"

	// DefaultPort is the default game port.
	DefaultPort = 27910

	// DefaultTickRate is the default server frame rate in Hz.
	DefaultTickRate = 10

	// DefaultMaxClients is the default number of player slots.
	DefaultMaxClients = 8

	// MaxClientsLimit is the largest allowed number of player slots.
	MaxClientsLimit = 256

	// DefaultDSCP marks game traffic as AF31.
	DefaultDSCP = 26

	// DefaultAdminAddr is where the metrics and status listener binds.
	DefaultAdminAddr = "localhost:27911"
)

// fileNames are tried in order by Load.
var fileNames = []string{ConfigFileName, "netsync.yaml", "netsync.yml"}

// Config represents the complete netsync.json configuration.
type Config struct {
	// Server contains the game server settings.
	Server ServerConfig `json:"server" yaml:"server"`

	// Channel contains reliable channel settings. Both peers must agree on
	// MaxFragment.
	Channel ChannelConfig `json:"channel" yaml:"channel"`

	// Queue contains packet ingress settings.
	Queue QueueConfig `json:"queue" yaml:"queue"`

	// Compression contains packet compression thresholds.
	Compression CompressionConfig `json:"compression" yaml:"compression"`

	// Interp contains client interpolation settings.
	Interp InterpConfig `json:"interp" yaml:"interp"`

	// Prediction contains client prediction settings.
	Prediction PredictionConfig `json:"prediction" yaml:"prediction"`

	// Admin contains the HTTP listener for metrics and status.
	Admin AdminConfig `json:"admin" yaml:"admin"`

	// Master lists the master servers announced to.
	Master MasterConfig `json:"master" yaml:"master"`

	// Demo contains demo recording and archival settings.
	Demo DemoConfig `json:"demo" yaml:"demo"`

	// Log contains logging settings for the netsync binary.
	Log LogConfig `json:"log" yaml:"log"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains game server settings.
type ServerConfig struct {
	// Name is announced to master servers.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Host is the address the game socket binds to. Empty binds all.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Port is the UDP game port.
	Port int `json:"port" yaml:"port"`

	// TickRate is the server frame rate in Hz.
	TickRate int `json:"tickRate" yaml:"tickRate"`

	// MaxClients is the number of player slots.
	MaxClients int `json:"maxClients" yaml:"maxClients"`

	// DSCP is the differentiated services code point of outgoing game
	// packets. 0 leaves the socket unmarked.
	DSCP int `json:"dscp" yaml:"dscp"`

	// Map is the level name sent to clients.
	Map string `json:"map,omitempty" yaml:"map,omitempty"`

	// WebSocket also accepts clients over /ws on the admin listener.
	WebSocket bool `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

// ChannelConfig contains reliable channel settings.
type ChannelConfig struct {
	// Timeout is how long a peer may stay silent (e.g., "30s").
	Timeout string `json:"timeout" yaml:"timeout"`

	// MaxFragment is the fragment payload size.
	MaxFragment int `json:"maxFragment" yaml:"maxFragment"`

	// Duplicates is the number of extra copies sent on lossy links.
	Duplicates int `json:"duplicates" yaml:"duplicates"`
}

// QueueConfig contains packet ingress settings.
type QueueConfig struct {
	Capacity     int `json:"capacity" yaml:"capacity"`
	DrainPerTick int `json:"drainPerTick" yaml:"drainPerTick"`
}

// CompressionConfig contains packet compression thresholds.
type CompressionConfig struct {
	MinSize          int `json:"minSize" yaml:"minSize"`
	ThresholdPercent int `json:"thresholdPercent" yaml:"thresholdPercent"`
	MaxDecompress    int `json:"maxDecompress" yaml:"maxDecompress"`
}

// InterpConfig contains client interpolation settings.
type InterpConfig struct {
	// Mode is "lerp" or "cubic".
	Mode string `json:"mode" yaml:"mode"`

	ExtrapolateMaxMs int     `json:"extrapolateMaxMs" yaml:"extrapolateMaxMs"`
	MinBufferMs      int     `json:"minBufferMs" yaml:"minBufferMs"`
	MaxBufferMs      int     `json:"maxBufferMs" yaml:"maxBufferMs"`
	Smoothing        float64 `json:"smoothing" yaml:"smoothing"`

	// JitterAvgWeight and JitterMaxWeight scale the average and worst
	// arrival jitter added to the snapshot interval to get the delay.
	JitterAvgWeight float64 `json:"jitterAvgWeight,omitempty" yaml:"jitterAvgWeight,omitempty"`
	JitterMaxWeight float64 `json:"jitterMaxWeight,omitempty" yaml:"jitterMaxWeight,omitempty"`
}

// PredictionConfig contains client prediction settings.
type PredictionConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	ErrorSmoothMs int  `json:"errorSmoothMs" yaml:"errorSmoothMs"`
}

// AdminConfig contains the admin HTTP listener settings.
type AdminConfig struct {
	// Addr is the listen address. Empty disables the listener.
	Addr string `json:"addr" yaml:"addr"`
}

// MasterConfig lists master servers.
type MasterConfig struct {
	URLs []string `json:"urls,omitempty" yaml:"urls,omitempty"`

	// Interval is the time between heartbeats (e.g., "300s").
	Interval string `json:"interval" yaml:"interval"`
}

// DemoConfig contains demo recording and archival settings.
type DemoConfig struct {
	// Dir is where recordings are written.
	Dir string `json:"dir" yaml:"dir"`

	// Compress deflates demo blocks when that saves space.
	Compress bool `json:"compress,omitempty" yaml:"compress,omitempty"`

	// Bucket, Prefix and Region locate the archive. Endpoint overrides the
	// AWS endpoint for S3-compatible stores.
	Bucket   string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `json:"level" yaml:"level"`

	// File is an additional log destination.
	File string `json:"file,omitempty" yaml:"file,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Name:       "netsync",
			Port:       DefaultPort,
			TickRate:   DefaultTickRate,
			MaxClients: DefaultMaxClients,
			DSCP:       DefaultDSCP,
			Map:        "base1",
		},
		Channel: ChannelConfig{
			Timeout:     "30s",
			MaxFragment: netchan.MaxFragmentSize,
		},
		Queue: QueueConfig{
			Capacity:     ingress.DefaultCapacity,
			DrainPerTick: ingress.DefaultDrainPerTick,
		},
		Compression: CompressionConfig{
			MinSize:          compress.MinCompressSize,
			ThresholdPercent: compress.ThresholdPercent,
			MaxDecompress:    compress.MaxDecompressSize,
		},
		Interp: InterpConfig{
			Mode:             interp.ModeLerp.String(),
			ExtrapolateMaxMs: 50,
			MinBufferMs:      50,
			MaxBufferMs:      200,
			Smoothing:        0.1,
		},
		Prediction: PredictionConfig{
			Enabled:       true,
			ErrorSmoothMs: int(interp.DefaultErrorDecay / time.Millisecond),
		},
		Admin: AdminConfig{
			Addr: DefaultAdminAddr,
		},
		Master: MasterConfig{
			Interval: "300s",
		},
		Demo: DemoConfig{
			Dir:    "demos",
			Prefix: "demos/",
			Region: "us-east-1",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the specified directory. It looks for
// netsync.json, then netsync.yaml and netsync.yml.
func Load(dir string) (*Config, error) {
	for _, name := range fileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, errors.New("E082").WithSubject(dir)
}

// LoadFile reads configuration from the specified file path. Files ending
// in .yaml or .yml are parsed as YAML, everything else as JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E082").WithSubject(path)
		}
		return nil, errors.New("E080").WithSubject(path).Wrap(err)
	}

	cfg := New()
	if isYAML(path) {
		err = yaml.UnmarshalStrict(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.New("E080").
			WithSubject(path).
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error())
	}

	cfg.configPath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path, as YAML when the
// extension asks for it.
func (c *Config) SaveTo(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		// Add newline at end of file
		data = append(data, '\n')
	}
	if err != nil {
		return errors.New("E083").WithSubject(path).Wrap(err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E083").WithSubject(path).Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := New()

	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.TickRate == 0 {
		c.Server.TickRate = d.Server.TickRate
	}
	if c.Server.MaxClients == 0 {
		c.Server.MaxClients = d.Server.MaxClients
	}

	if c.Channel.Timeout == "" {
		c.Channel.Timeout = d.Channel.Timeout
	}
	if c.Channel.MaxFragment == 0 {
		c.Channel.MaxFragment = d.Channel.MaxFragment
	}

	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = d.Queue.Capacity
	}
	if c.Queue.DrainPerTick == 0 {
		c.Queue.DrainPerTick = d.Queue.DrainPerTick
	}

	if c.Compression.MaxDecompress == 0 {
		c.Compression.MaxDecompress = d.Compression.MaxDecompress
	}

	if c.Interp.Mode == "" {
		c.Interp.Mode = d.Interp.Mode
	}
	if c.Interp.MinBufferMs == 0 {
		c.Interp.MinBufferMs = d.Interp.MinBufferMs
	}
	if c.Interp.MaxBufferMs == 0 {
		c.Interp.MaxBufferMs = d.Interp.MaxBufferMs
	}
	if c.Interp.Smoothing == 0 {
		c.Interp.Smoothing = d.Interp.Smoothing
	}

	if c.Master.Interval == "" {
		c.Master.Interval = d.Master.Interval
	}
	if c.Demo.Dir == "" {
		c.Demo.Dir = d.Demo.Dir
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// invalid returns an E081 error for the named option.
func invalid(option, detail string) error {
	return errors.New("E081").WithSubject(option).WithDetail(detail)
}

func checkRange(option string, v, lo, hi int) error {
	if v < lo || v > hi {
		return invalid(option, fmt.Sprintf("must be in [%d, %d], got %d", lo, hi, v))
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	checks := []error{
		checkRange("server.port", c.Server.Port, 0, 65535),
		checkRange("server.tickRate", c.Server.TickRate, 1, 1000),
		checkRange("server.maxClients", c.Server.MaxClients, 1, MaxClientsLimit),
		checkRange("server.dscp", c.Server.DSCP, 0, 63),
		checkRange("channel.maxFragment", c.Channel.MaxFragment, 64, netchan.MaxFragmentSize),
		checkRange("channel.duplicates", c.Channel.Duplicates, 0, netchan.MaxDuplicates),
		checkRange("queue.capacity", c.Queue.Capacity, 1, ingress.MaxQueueCapacity),
		checkRange("queue.drainPerTick", c.Queue.DrainPerTick, 1, ingress.MaxQueueCapacity),
		checkRange("compression.minSize", c.Compression.MinSize, 0, compress.MaxDecompressSize),
		checkRange("compression.thresholdPercent", c.Compression.ThresholdPercent, 0, 99),
		checkRange("compression.maxDecompress", c.Compression.MaxDecompress, 1, compress.MaxDecompressSize),
		checkRange("interp.extrapolateMaxMs", c.Interp.ExtrapolateMaxMs, 0, 1000),
		checkRange("interp.minBufferMs", c.Interp.MinBufferMs, 1, 10000),
		checkRange("interp.maxBufferMs", c.Interp.MaxBufferMs, c.Interp.MinBufferMs, 10000),
		checkRange("prediction.errorSmoothMs", c.Prediction.ErrorSmoothMs, 0, 10000),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if d, err := time.ParseDuration(c.Channel.Timeout); err != nil || d <= 0 {
		return invalid("channel.timeout", "must be a positive duration such as \"30s\", got "+strconv.Quote(c.Channel.Timeout))
	}
	if d, err := time.ParseDuration(c.Master.Interval); err != nil || d <= 0 {
		return invalid("master.interval", "must be a positive duration such as \"300s\", got "+strconv.Quote(c.Master.Interval))
	}
	if _, ok := interp.ParseMode(c.Interp.Mode); !ok {
		return invalid("interp.mode", `must be "lerp" or "cubic", got `+strconv.Quote(c.Interp.Mode))
	}
	if c.Interp.Smoothing <= 0 || c.Interp.Smoothing > 1 {
		return invalid("interp.smoothing", fmt.Sprintf("must be in (0, 1], got %g", c.Interp.Smoothing))
	}
	if _, ok := ParseLevel(c.Log.Level); !ok {
		return invalid("log.level", "must be debug, info, warn or error, got "+strconv.Quote(c.Log.Level))
	}
	return nil
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// ServerAddress returns the game socket listen address.
func (c *Config) ServerAddress() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

// TickInterval returns the duration of one server frame.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(max(c.Server.TickRate, 1))
}

// ChannelTimeout returns channel.timeout, or the channel default when it
// does not parse.
func (c *Config) ChannelTimeout() time.Duration {
	d, err := time.ParseDuration(c.Channel.Timeout)
	if err != nil || d <= 0 {
		return netchan.DefaultTimeout
	}
	return d
}

// MasterInterval returns master.interval, or five minutes when it does not
// parse.
func (c *Config) MasterInterval() time.Duration {
	d, err := time.ParseDuration(c.Master.Interval)
	if err != nil || d <= 0 {
		return 300 * time.Second
	}
	return d
}

// NetchanConfig returns the channel settings for netchan.New.
func (c *Config) NetchanConfig(logger *slog.Logger) *netchan.Config {
	return &netchan.Config{
		Timeout:     c.ChannelTimeout(),
		MaxFragment: c.Channel.MaxFragment,
		Duplicates:  c.Channel.Duplicates,
		Logger:      logger,
	}
}

// CompressOptions returns the packet compression thresholds.
func (c *Config) CompressOptions() compress.Options {
	opts := compress.DefaultOptions()
	opts.MinSize = c.Compression.MinSize
	opts.ThresholdPercent = c.Compression.ThresholdPercent
	opts.MaxDecompress = c.Compression.MaxDecompress
	return opts
}

// WindowConfig returns the adaptive interpolation window tuning. The
// expected snapshot interval follows the tick rate.
func (c *Config) WindowConfig() interp.WindowConfig {
	w := interp.DefaultWindowConfig()
	w.Min = time.Duration(c.Interp.MinBufferMs) * time.Millisecond
	w.Max = time.Duration(c.Interp.MaxBufferMs) * time.Millisecond
	w.Expected = c.TickInterval()
	w.Initial = min(max(w.Expected, w.Min), w.Max)
	w.Smoothing = c.Interp.Smoothing
	if c.Interp.JitterAvgWeight > 0 || c.Interp.JitterMaxWeight > 0 {
		w.AvgWeight = c.Interp.JitterAvgWeight
		w.MaxWeight = c.Interp.JitterMaxWeight
	}
	return w
}

// InterpMode returns the parsed interp.mode.
func (c *Config) InterpMode() interp.Mode {
	m, _ := interp.ParseMode(c.Interp.Mode)
	return m
}

// ExtrapolateMax returns interp.extrapolateMaxMs as a duration.
func (c *Config) ExtrapolateMax() time.Duration {
	return time.Duration(c.Interp.ExtrapolateMaxMs) * time.Millisecond
}

// ErrorDecay returns prediction.errorSmoothMs as a duration.
func (c *Config) ErrorDecay() time.Duration {
	return time.Duration(c.Prediction.ErrorSmoothMs) * time.Millisecond
}

// DemoDir returns the absolute path to the demo directory.
func (c *Config) DemoDir() string {
	if filepath.IsAbs(c.Demo.Dir) || c.Dir() == "" {
		return c.Demo.Dir
	}
	return filepath.Join(c.Dir(), c.Demo.Dir)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	for _, name := range fileNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// FindConfigDir walks up directories to find one holding a config file.
func FindConfigDir(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("E082").
				WithSubject(startDir).
				WithDetail("No netsync.json found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads configuration from the current working directory
// or its nearest parent holding a config file.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, err := FindConfigDir(wd)
	if err != nil {
		return nil, err
	}

	return Load(root)
}
