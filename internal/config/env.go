package config

import (
	"fmt"
	"strconv"
	"strings"
)

const envPrefix = "SIMPLEHTTP_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays SIMPLEHTTP_* variables onto cfg and reports whether any
// were set.
func ApplyEnv(cfg *Config, lookup LookupFunc) (bool, error) {
	used := false
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		v = strings.TrimSpace(v)
		if ok && v != "" {
			used = true
			return v, true
		}
		return "", false
	}

	if v, ok := get("HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := get("PORTS"); ok {
		ports, err := parsePorts(v)
		if err != nil {
			return used, fmt.Errorf("%sPORTS: %w", envPrefix, err)
		}
		cfg.Server.Ports = ports
	}
	if v, ok := get("READ_TIMEOUT"); ok {
		d, err := ParseDuration(v)
		if err != nil {
			return used, err
		}
		cfg.Server.ReadTimeout = d
	}
	if v, ok := get("WRITE_TIMEOUT"); ok {
		d, err := ParseDuration(v)
		if err != nil {
			return used, err
		}
		cfg.Server.WriteTimeout = d
	}
	if v, ok := get("MAX_HEADER_BYTES"); ok {
		n, err := ParseSize(v)
		if err != nil {
			return used, err
		}
		cfg.Server.MaxHeaderBytes = n
	}
	if v, ok := get("MAX_BODY_BYTES"); ok {
		n, err := ParseSize(v)
		if err != nil {
			return used, err
		}
		cfg.Server.MaxBodyBytes = n
	}
	if v, ok := get("PUBLIC_ROOT"); ok {
		cfg.Public.Root = v
	}
	if v, ok := get("DB_PATH"); ok {
		cfg.Storage.DBPath = v
	}
	if v, ok := get("TOKEN_TTL"); ok {
		d, err := ParseDuration(v)
		if err != nil {
			return used, err
		}
		cfg.Auth.TokenTTL = d
	}
	if v, ok := get("SWEEP_CRON"); ok {
		cfg.Auth.SweepCron = v
	}
	if v, ok := get("BCRYPT_COST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return used, fmt.Errorf("%sBCRYPT_COST: %w", envPrefix, err)
		}
		cfg.Auth.BcryptCost = n
	}
	if v, ok := get("RATE_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return used, fmt.Errorf("%sRATE_RPS: %w", envPrefix, err)
		}
		cfg.RateLimit.RPS = f
	}
	if v, ok := get("RATE_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return used, fmt.Errorf("%sRATE_BURST: %w", envPrefix, err)
		}
		cfg.RateLimit.Burst = n
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		cfg.Logging.Format = v
	}
	if v, ok := get("LOG_SINK"); ok {
		cfg.Logging.Sink = v
	}
	if v, ok := get("METRICS_ADDR"); ok {
		cfg.Metrics.Address = v
	}
	return used, nil
}

// parsePorts reads a comma separated port list such as "8080,8888".
func parsePorts(v string) ([]int, error) {
	var ports []int
	for p := range strings.SplitSeq(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", p)
		}
		ports = append(ports, n)
	}
	return ports, nil
}
