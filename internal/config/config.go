// Package config loads the builder's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"treehouse/internal/gdmc"
	"treehouse/internal/structure"
)

type Config struct {
	Interface InterfaceConfig `yaml:"interface" json:"interface"`
	Editor    EditorConfig    `yaml:"editor" json:"editor"`
	TreeHouse TreeHouseConfig `yaml:"treehouse" json:"treehouse"`
	Clear     ClearConfig     `yaml:"clear" json:"clear"`
	Flatten   FlattenConfig   `yaml:"flatten" json:"flatten"`
	Data      DataConfig      `yaml:"data" json:"data"`
	Observer  ObserverConfig  `yaml:"observer" json:"observer"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

type InterfaceConfig struct {
	Host    string   `yaml:"host" json:"host"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

type EditorConfig struct {
	BufferLimit     int  `yaml:"buffer_limit" json:"buffer_limit"`
	BatchSize       int  `yaml:"batch_size" json:"batch_size"`
	Workers         int  `yaml:"workers" json:"workers"`
	DoBlockUpdates  bool `yaml:"do_block_updates" json:"do_block_updates"`
	SpawnDrops      bool `yaml:"spawn_drops" json:"spawn_drops"`
	CapturePrevious bool `yaml:"capture_previous" json:"capture_previous"`
}

type TreeHouseConfig struct {
	TreeHeight     int           `yaml:"tree_height" json:"tree_height"`
	PlatformHeight int           `yaml:"platform_height" json:"platform_height"`
	PlatformRadius int           `yaml:"platform_radius" json:"platform_radius"`
	HouseHeight    int           `yaml:"house_height" json:"house_height"`
	LeafDensity    float64       `yaml:"leaf_density" json:"leaf_density"`
	Seed           int64         `yaml:"seed" json:"seed"` // 0 picks a time-based seed
	Palette        PaletteConfig `yaml:"palette" json:"palette"`
}

type PaletteConfig struct {
	Platform string `yaml:"platform" json:"platform"`
	Trunk    string `yaml:"trunk" json:"trunk"`
	Wall     string `yaml:"wall" json:"wall"`
	Window   string `yaml:"window" json:"window"`
	Roof     string `yaml:"roof" json:"roof"`
	Ladder   string `yaml:"ladder" json:"ladder"`
	Door     string `yaml:"door" json:"door"`
	Leaves   string `yaml:"leaves" json:"leaves"`
}

type ClearConfig struct {
	MinY            int    `yaml:"min_y" json:"min_y"`
	BottomHeightmap string `yaml:"bottom_heightmap" json:"bottom_heightmap"`
	TopHeightmap    string `yaml:"top_heightmap" json:"top_heightmap"`
}

type FlattenConfig struct {
	Block string `yaml:"block" json:"block"`
}

type DataConfig struct {
	Dir       string `yaml:"dir" json:"dir"`
	DisableDB bool   `yaml:"disable_db" json:"disable_db"`
}

type ObserverConfig struct {
	// Listen enables the progress feed, e.g. "127.0.0.1:8095".
	Listen string `yaml:"listen" json:"listen"`
}

type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

// Duration is a time.Duration written as "30s" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func Defaults() Config {
	th := structure.DefaultTreeHouse()
	return Config{
		Interface: InterfaceConfig{
			Host:    gdmc.DefaultHost,
			Timeout: Duration(gdmc.DefaultTimeout),
		},
		Editor: EditorConfig{
			BufferLimit:     1024,
			BatchSize:       256,
			Workers:         4,
			DoBlockUpdates:  true,
			CapturePrevious: true,
		},
		TreeHouse: TreeHouseConfig{
			TreeHeight:     th.TreeHeight,
			PlatformHeight: th.PlatformHeight,
			PlatformRadius: th.PlatformRadius,
			HouseHeight:    th.HouseHeight,
			LeafDensity:    th.LeafDensity,
			Palette: PaletteConfig{
				Platform: "oak_log",
				Trunk:    "oak_log",
				Wall:     "oak_log",
				Window:   "glass",
				Roof:     "oak_slab",
				Ladder:   "ladder",
				Door:     "oak_fence_gate",
				Leaves:   "spruce_leaves",
			},
		},
		Clear: ClearConfig{
			MinY:            0,
			BottomHeightmap: string(gdmc.MotionBlockingNoLeaves),
			TopHeightmap:    string(gdmc.WorldSurface),
		},
		Flatten:  FlattenConfig{Block: "grass_block"},
		Data:     DataConfig{Dir: "./data"},
		Logging:  LoggingConfig{Level: "info"},
		Observer: ObserverConfig{},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
// Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := validateDocument(raw); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("GDMC_HOST")); v != "" {
		c.Interface.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("TREEHOUSE_DATA_DIR")); v != "" {
		c.Data.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("TREEHOUSE_LOG_LEVEL")); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate checks what the schema cannot: block syntax and cross-field rules.
func (c Config) Validate() error {
	if _, err := c.TreeHouseParams(); err != nil {
		return err
	}
	if _, err := gdmc.ParseHeightmapType(c.Clear.BottomHeightmap); err != nil {
		return fmt.Errorf("clear.bottom_heightmap: %w", err)
	}
	if _, err := gdmc.ParseHeightmapType(c.Clear.TopHeightmap); err != nil {
		return fmt.Errorf("clear.top_heightmap: %w", err)
	}
	if _, err := gdmc.ParseBlock(c.Flatten.Block); err != nil {
		return fmt.Errorf("flatten.block: %w", err)
	}
	if c.Editor.BatchSize > c.Editor.BufferLimit {
		return fmt.Errorf("editor.batch_size (%d) exceeds editor.buffer_limit (%d)", c.Editor.BatchSize, c.Editor.BufferLimit)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	return nil
}

// TreeHouseParams converts the treehouse section into template parameters.
func (c Config) TreeHouseParams() (structure.TreeHouseParams, error) {
	t := c.TreeHouse
	p := structure.TreeHouseParams{
		TreeHeight:     t.TreeHeight,
		PlatformHeight: t.PlatformHeight,
		PlatformRadius: t.PlatformRadius,
		HouseHeight:    t.HouseHeight,
		LeafDensity:    t.LeafDensity,
		Palette:        structure.DefaultPalette(),
	}
	slots := []struct {
		name string
		raw  string
		dst  *gdmc.Block
	}{
		{"platform", t.Palette.Platform, &p.Palette.Platform},
		{"trunk", t.Palette.Trunk, &p.Palette.Trunk},
		{"wall", t.Palette.Wall, &p.Palette.Wall},
		{"window", t.Palette.Window, &p.Palette.Window},
		{"roof", t.Palette.Roof, &p.Palette.Roof},
		{"ladder", t.Palette.Ladder, &p.Palette.Ladder},
		{"door", t.Palette.Door, &p.Palette.Door},
		{"leaves", t.Palette.Leaves, &p.Palette.Leaves},
	}
	for _, s := range slots {
		if strings.TrimSpace(s.raw) == "" {
			continue
		}
		b, err := gdmc.ParseBlock(s.raw)
		if err != nil {
			return p, fmt.Errorf("treehouse.palette.%s: %w", s.name, err)
		}
		*s.dst = b
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("treehouse: %w", err)
	}
	return p, nil
}
