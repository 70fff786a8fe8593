// Package config loads the options §6 lists, with the precedence built-in
// defaults -> .env file -> environment variables -> CLI flags, grounded on
// the teacher's sippy_conf.Config plus voiceip-siprec's use of godotenv
// for the .env step.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every option the core consumes (§6). The HTTP admin API
// and its own options are an external collaborator's concern and are not
// modeled here.
type Config struct {
	SIPHost       string
	SIPPort       int
	ServerAddress string

	RTPHost string
	RTPPort int

	ExtMin int
	ExtMax int

	CallSetupTimeout    time.Duration
	RegistrationTimeout time.Duration
	CleanupInterval     time.Duration

	LogLevel string
	LogFile  string

	// Foreground mirrors the teacher's "-f" flag: when false a real
	// deployment would daemonize, though this server never forks itself.
	Foreground bool
}

// Default returns the §6 defaults.
func Default() *Config {
	return &Config{
		SIPHost:             "0.0.0.0",
		SIPPort:             5060,
		ServerAddress:       "127.0.0.1",
		RTPHost:             "0.0.0.0",
		RTPPort:             10000,
		ExtMin:              100,
		ExtMax:              110,
		CallSetupTimeout:    30 * time.Second,
		RegistrationTimeout: 3600 * time.Second,
		CleanupInterval:     60 * time.Second,
		LogLevel:            "info",
		LogFile:             "",
		Foreground:          true,
	}
}

// Load applies the .env file (if present; missing files are not an
// error), then environment variables, then CLI flags, over the defaults.
func Load(args []string) (*Config, error) {
	cfg := Default()

	_ = godotenv.Load() // optional; absence is not an error

	applyEnv(cfg)

	fs := flag.NewFlagSet("b2bua", flag.ContinueOnError)
	fs.StringVar(&cfg.SIPHost, "sip-host", cfg.SIPHost, "SIP bind address")
	fs.IntVar(&cfg.SIPPort, "p", cfg.SIPPort, "SIP bind port")
	fs.StringVar(&cfg.ServerAddress, "l", cfg.ServerAddress, "Server address advertised in SDP/Via")
	fs.StringVar(&cfg.RTPHost, "rtp-host", cfg.RTPHost, "RTP bind address")
	fs.IntVar(&cfg.RTPPort, "rtp-port", cfg.RTPPort, "RTP bind port")
	fs.IntVar(&cfg.ExtMin, "ext-min", cfg.ExtMin, "lowest valid extension")
	fs.IntVar(&cfg.ExtMax, "ext-max", cfg.ExtMax, "highest valid extension")
	fs.BoolVar(&cfg.Foreground, "f", cfg.Foreground, "run in foreground")
	fs.StringVar(&cfg.LogFile, "L", cfg.LogFile, "log file path (empty = stderr)")
	fs.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SIP_HOST"); v != "" {
		cfg.SIPHost = v
	}
	if v, ok := envInt("SIP_PORT"); ok {
		cfg.SIPPort = v
	}
	if v := os.Getenv("SERVER_ADDRESS"); v != "" {
		cfg.ServerAddress = v
	}
	if v := os.Getenv("RTP_HOST"); v != "" {
		cfg.RTPHost = v
	}
	if v, ok := envInt("RTP_PORT"); ok {
		cfg.RTPPort = v
	}
	if v, ok := envInt("EXT_MIN"); ok {
		cfg.ExtMin = v
	}
	if v, ok := envInt("EXT_MAX"); ok {
		cfg.ExtMax = v
	}
	if v, ok := envInt("CALL_SETUP_TIMEOUT"); ok {
		cfg.CallSetupTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("REGISTRATION_TIMEOUT"); ok {
		cfg.RegistrationTimeout = time.Duration(v) * time.Second
	}
	if v, ok := envInt("CLEANUP_INTERVAL"); ok {
		cfg.CleanupInterval = time.Duration(v) * time.Millisecond
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
