// config layers defaults, an optional config file, FSREPAIR_* environment
// variables and command-line flags into the options of one repair run.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mit-pdos/go-fsrepair/repair"
)

const (
	ConfigName = "fsrepair"
	EnvPrefix  = "FSREPAIR"
)

// Config mirrors the keys accepted in fsrepair.yaml.
type Config struct {
	NoModify      bool     `mapstructure:"no_modify"`
	ZapLog        bool     `mapstructure:"zap_log"`
	LogDevice     string   `mapstructure:"log_device"`
	Upgrade       []string `mapstructure:"upgrade"`
	AddInobtCount bool     `mapstructure:"add_inobtcount"`
	AddBigtime    bool     `mapstructure:"add_bigtime"`
	Verbose       int      `mapstructure:"verbose"`
	Threads       int      `mapstructure:"threads"`
	Debug         uint64   `mapstructure:"debug"`
}

// flagKeys binds command-line flag names to config keys.
var flagKeys = map[string]string{
	"no-modify":      "no_modify",
	"zap-log":        "zap_log",
	"log-device":     "log_device",
	"upgrade":        "upgrade",
	"add-inobtcount": "add_inobtcount",
	"add-bigtime":    "add_bigtime",
	"verbose":        "verbose",
	"threads":        "threads",
	"debug":          "debug",
}

// Setup prepares v: defaults, config search path, environment and the
// flags in fs that have a config key. configFile, if set, replaces the
// search path.
func Setup(v *viper.Viper, fs *pflag.FlagSet, configFile string) error {
	v.SetDefault("no_modify", false)
	v.SetDefault("zap_log", false)
	v.SetDefault("log_device", "")
	v.SetDefault("upgrade", []string{})
	v.SetDefault("verbose", 0)
	v.SetDefault("threads", runtime.NumCPU())
	v.SetDefault("debug", 0)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.fsrepair")
		v.AddConfigPath("/etc/fsrepair")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads the configuration in v into run options.
func Load(v *viper.Viper) (repair.Options, *Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return repair.Options{}, nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return repair.Options{}, nil, fmt.Errorf("unable to decode config: %w", err)
	}
	opts, err := c.Options()
	if err != nil {
		return repair.Options{}, nil, err
	}
	return opts, &c, nil
}

// Options converts c, folding -c style upgrade requests into the feature
// switches.
func (c *Config) Options() (repair.Options, error) {
	opts := repair.Options{
		NoModify:      c.NoModify,
		ZapLog:        c.ZapLog,
		LogDevice:     c.LogDevice,
		AddInobtCount: c.AddInobtCount,
		AddBigtime:    c.AddBigtime,
		Verbose:       c.Verbose,
		ScanThreads:   c.Threads,
	}
	for _, u := range c.Upgrade {
		for _, opt := range strings.Split(u, ",") {
			if opt == "" {
				continue
			}
			name, val, found := strings.Cut(opt, "=")
			on := !found || val == "1"
			if found && val != "0" && val != "1" {
				return repair.Options{}, fmt.Errorf("bad value %q for upgrade option %s", val, name)
			}
			switch name {
			case "inobtcount":
				opts.AddInobtCount = on
			case "bigtime":
				opts.AddBigtime = on
			default:
				return repair.Options{}, fmt.Errorf("unknown upgrade option %q", name)
			}
		}
	}
	if opts.ScanThreads < 1 {
		opts.ScanThreads = 1
	}
	return opts, nil
}
