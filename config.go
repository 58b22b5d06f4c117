/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	storeSQLite = "sqlite"
	storeBolt   = "bolt"
)

type Config struct {
	bind            string
	configFile      string
	dataset         string
	database        string
	leaderboardSize int
	maxUpload       int64
	port            int
	prefix          string
	profile         bool
	sessionTimeout  time.Duration
	store           string
	tlsCert         string
	tlsKey          string
	verbose         bool
	version         bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.store != storeSQLite && c.store != storeBolt {
		return fmt.Errorf("%w: %q (must be %q or %q)", ErrUnknownStore, c.store, storeSQLite, storeBolt)
	}
	if c.database == "" {
		return errors.New("--db must not be empty")
	}
	if c.dataset == "" {
		return errors.New("--dataset must not be empty")
	}
	if c.leaderboardSize < 1 {
		return fmt.Errorf("invalid leaderboard size (must be at least 1): %d", c.leaderboardSize)
	}
	if c.maxUpload < 1 {
		return fmt.Errorf("invalid max upload size (must be at least 1 byte): %d", c.maxUpload)
	}
	if c.sessionTimeout < 0 {
		return fmt.Errorf("invalid session timeout (must not be negative): %s", c.sessionTimeout)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// applyEnvironment fills every flag the user did not pass explicitly from
// HIGHERLOWER_* environment variables or, when --config is set, the config file.
func applyEnvironment(v *viper.Viper, fs *pflag.FlagSet, configFile string) error {
	if configFile == "" {
		_ = v.BindEnv("config")
		configFile = v.GetString("config")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var errs []error

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				errs = append(errs, fmt.Errorf("invalid value for %s: %w", f.Name, err))
			}
		}
	})

	return errors.Join(errs...)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("HIGHERLOWER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v
}

func newCmd(cfg *Config) *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:           "higherlower",
		Short:         "Guess which artist has more monthly listeners.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applyEnvironment(v, cmd.Flags(), cfg.configFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: HIGHERLOWER_BIND)")
	fs.StringVarP(&cfg.configFile, "config", "c", "", "path to a config file in yaml, toml or json (env: HIGHERLOWER_CONFIG)")
	fs.StringVar(&cfg.dataset, "dataset", "spotify_top500.csv", "path to the artist CSV (Artist,MonthlyListeners) (env: HIGHERLOWER_DATASET)")
	fs.StringVar(&cfg.database, "db", "higherlower.db", "path to the leaderboard database (env: HIGHERLOWER_DB)")
	fs.IntVar(&cfg.leaderboardSize, "leaderboard-size", 10, "number of scores shown on the leaderboard (env: HIGHERLOWER_LEADERBOARD_SIZE)")
	fs.Int64Var(&cfg.maxUpload, "max-upload", 8<<20, "maximum accepted CSV upload, in bytes (env: HIGHERLOWER_MAX_UPLOAD)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: HIGHERLOWER_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: HIGHERLOWER_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: HIGHERLOWER_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle player sessions are dropped, 0 to keep forever (env: HIGHERLOWER_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.store, "store", storeSQLite, "leaderboard backend: sqlite or bolt (env: HIGHERLOWER_STORE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: HIGHERLOWER_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: HIGHERLOWER_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: HIGHERLOWER_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: HIGHERLOWER_VERSION)")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("higherlower v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
