package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const releaseVersion = "1.0.0"

// Config 机器人参数
type Config struct {
	server        string
	wsPath        string
	device        string
	duration      time.Duration
	moveInterval  time.Duration
	claimInterval time.Duration
	throttle      time.Duration
	verbose       bool
}

func (c *Config) validate() error {
	u, err := url.Parse(c.server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server url: %q", c.server)
	}
	if c.moveInterval <= 0 || c.claimInterval <= 0 {
		return errors.New("--move-interval and --claim-interval must be positive")
	}
	return nil
}

// wsURL 由 HTTP 地址推出 WebSocket 地址
func (c *Config) wsURL() string {
	u, _ := url.Parse(strings.TrimRight(c.server, "/"))
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += c.wsPath
	return u.String()
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("COOKIEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "cookie-bot",
		Short:         "Joins a cookie-catcher room as a device, wanders around and claims cookies.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			if cfg.device == "" {
				cfg.device = "bot-" + uuid.NewString()
			}
			return Run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.server, "server", "s", "http://localhost:8080", "server base url (env: COOKIEBOT_SERVER)")
	fs.StringVar(&cfg.wsPath, "ws-path", "/realtime/v1/websocket", "realtime websocket path (env: COOKIEBOT_WS_PATH)")
	fs.StringVarP(&cfg.device, "device", "d", "", "device id, random when empty (env: COOKIEBOT_DEVICE)")
	fs.DurationVar(&cfg.duration, "duration", 0, "stop after this long, 0 runs until interrupted (env: COOKIEBOT_DURATION)")
	fs.DurationVar(&cfg.moveInterval, "move-interval", 30*time.Millisecond, "cursor movement step (env: COOKIEBOT_MOVE_INTERVAL)")
	fs.DurationVar(&cfg.claimInterval, "claim-interval", 400*time.Millisecond, "time between claim attempts (env: COOKIEBOT_CLAIM_INTERVAL)")
	fs.DurationVar(&cfg.throttle, "throttle", 50*time.Millisecond, "minimum time between cursor broadcasts (env: COOKIEBOT_THROTTLE)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "log every cursor and presence event (env: COOKIEBOT_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("cookie-bot v{{.Version}}\n")
	cmd.SilenceUsage = true

	return cmd
}
