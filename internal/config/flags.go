package config

import (
	"flag"
	"io"
	"os"

	"github.com/joho/godotenv"
)

// Flags holds parsed command-line values and which of them were set.
type Flags struct {
	Config    string
	Directory string
	Port      int
	Set       map[string]bool
}

func ParseFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("simple-http", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfgPath := fs.String("config", "./config.yaml", "path to config file")
	dir := fs.String("directory", "", "public root directory")
	port := fs.Int("port", 0, "listen on this port only")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Config: *cfgPath, Directory: *dir, Port: *port, Set: set}, nil
}

// Apply overrides cfg with every flag that was given explicitly.
func (f Flags) Apply(cfg *Config) {
	if f.Set["directory"] {
		cfg.Public.Root = f.Directory
	}
	if f.Set["port"] {
		cfg.Server.Ports = []int{f.Port}
	}
}

// Resolve builds the effective configuration: defaults, then the YAML file,
// then .env and SIMPLEHTTP_* variables, then flags.
func Resolve(args []string) (*Config, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, err
	}
	_ = godotenv.Load(".env")

	cfg, err := Load(flags.Config)
	if err != nil {
		return nil, err
	}
	if _, err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
