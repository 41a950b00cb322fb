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

type Config struct {
	bind          string
	dbDriver      string
	dbSource      string
	metrics       bool
	port          int
	prefix        string
	probeInterval time.Duration
	profile       bool
	sendBuffer    int
	tlsCert       string
	tlsKey        string
	uploads       string
	verbose       bool
	version       bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	switch c.dbDriver {
	case driverSQLite, driverMySQL:
	default:
		return fmt.Errorf("invalid database driver (must be %q or %q): %q", driverSQLite, driverMySQL, c.dbDriver)
	}
	if c.dbSource == "" {
		return errors.New("--db-source must not be empty")
	}
	if c.probeInterval < time.Second {
		return fmt.Errorf("invalid probe interval (must be at least 1s): %s", c.probeInterval)
	}
	if c.sendBuffer < 1 {
		return fmt.Errorf("invalid send buffer (must be at least 1): %d", c.sendBuffer)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MENUBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "menubox",
		Short:         "A live, collaboratively edited restaurant menu board.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
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

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: MENUBOX_BIND)")
	fs.StringVar(&cfg.dbDriver, "db-driver", driverSQLite, "database driver, sqlite or mysql (env: MENUBOX_DB_DRIVER)")
	fs.StringVar(&cfg.dbSource, "db-source", "menubox.db", "database file (sqlite) or DSN (mysql) (env: MENUBOX_DB_SOURCE)")
	fs.BoolVar(&cfg.metrics, "metrics", false, "expose prometheus metrics on /metrics (env: MENUBOX_METRICS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: MENUBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: MENUBOX_PREFIX)")
	fs.DurationVar(&cfg.probeInterval, "probe-interval", 30*time.Second, "interval between websocket liveness probes (env: MENUBOX_PROBE_INTERVAL)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: MENUBOX_PROFILE)")
	fs.IntVar(&cfg.sendBuffer, "send-buffer", 16, "queued outbound messages per connection before it is dropped (env: MENUBOX_SEND_BUFFER)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: MENUBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: MENUBOX_TLS_KEY)")
	fs.StringVar(&cfg.uploads, "uploads", "uploads", "directory holding uploaded images and logos (env: MENUBOX_UPLOADS)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: MENUBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: MENUBOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("menubox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
