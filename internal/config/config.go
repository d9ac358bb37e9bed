package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Port            int           `yaml:"port"`
	ServerAddr      string        `yaml:"server_addr"`
	Capture         string        `yaml:"capture"`
	LocalFile       string        `yaml:"local_file"`
	Mode            string        `yaml:"mode"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	QuietWindow     time.Duration `yaml:"quiet_window"`
	ListMaxWait     time.Duration `yaml:"list_max_wait"`
	SaveDir         string        `yaml:"save_dir"`
	OutputDir       string        `yaml:"output_dir"`
	RawLog          bool          `yaml:"raw_log"`
	Measure         bool          `yaml:"measure"`
	MeasureLimit    int           `yaml:"measure_limit"`
	Device          string        `yaml:"device"`
	PublishEndpoint string        `yaml:"publish_endpoint"`
	PublishHWM      int           `yaml:"publish_hwm"`
	DispatchBuffer  int           `yaml:"dispatch_buffer"`
	AutoPlay        bool          `yaml:"auto_play"`
	Debug           bool          `yaml:"debug"`
	DebugFrames     int           `yaml:"debug_frames"`
	LogEvery        int           `yaml:"log_every"`
}

func Default() AppConfig {
	return AppConfig{
		Port:           8888,
		Mode:           "sync",
		QueueCapacity:  30,
		QuietWindow:    250 * time.Millisecond,
		ListMaxWait:    10 * time.Second,
		OutputDir:      "output",
		MeasureLimit:   100000,
		Device:         "desktop",
		PublishHWM:     4,
		DispatchBuffer: 64,
		DebugFrames:    60,
		LogEvery:       10,
	}
}

// Load overlays the YAML file at path onto cfg. Keys missing from the file
// keep their current value.
func Load(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects unusable settings and clamps the rest into range.
func (c *AppConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ServerAddr == "" && c.LocalFile == "" && !c.Debug {
		return errors.New("one of server address, local file or debug mode is required")
	}
	if c.ServerAddr != "" && c.LocalFile != "" {
		return errors.New("server address and local file are mutually exclusive")
	}
	if c.QueueCapacity < 1 {
		c.QueueCapacity = 30
	}
	if c.QuietWindow <= 0 {
		c.QuietWindow = 250 * time.Millisecond
	}
	if c.ListMaxWait < c.QuietWindow {
		c.ListMaxWait = c.QuietWindow
	}
	if c.MeasureLimit < 1 {
		c.MeasureLimit = 1
	}
	if c.DispatchBuffer < 1 {
		c.DispatchBuffer = 1
	}
	if c.DebugFrames < 1 {
		c.DebugFrames = 1
	}
	if c.LogEvery < 1 {
		c.LogEvery = 1
	}
	return nil
}
