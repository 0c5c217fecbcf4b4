package prover

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/automata-network/linea-prover/client"
)

// Config is the service configuration file.
type Config struct {
	Server   ServerConfig          `json:"server"`
	L2       string                `json:"l2"`
	Rollup   RollupConfig          `json:"rollup"`
	Verifier client.VerifierConfig `json:"verifier"`
	Shomei   client.ShomeiConfig   `json:"shomei"`
}

// ServerConfig shapes the JSON-RPC front-end. TLS is a path prefix:
// "<tls>.crt" and "<tls>.key" are loaded when it is non-empty.
type ServerConfig struct {
	TLS       string `json:"tls"`
	BodyLimit int    `json:"body_limit"`
	Workers   int    `json:"workers"`
}

// RollupConfig bounds the proving window.
type RollupConfig struct {
	Endpoint  string         `json:"endpoint"`
	Contract  common.Address `json:"contract"`
	WaitBlock uint64         `json:"wait_block"`
	MaxBlock  uint64         `json:"max_block"`
}

const (
	defaultBodyLimit = 4 << 20
	defaultWorkers   = 8
	defaultWaitBlock = 5
	defaultMaxBlock  = 10
)

// LoadConfig reads and normalizes the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prover: read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("prover: parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if cfg.L2 == "" {
		return nil, fmt.Errorf("prover: config %s: l2 endpoint is required", path)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.BodyLimit == 0 {
		c.Server.BodyLimit = defaultBodyLimit
	}
	if c.Server.Workers == 0 {
		c.Server.Workers = defaultWorkers
	}
	if c.Rollup.WaitBlock == 0 {
		c.Rollup.WaitBlock = defaultWaitBlock
	}
	if c.Rollup.MaxBlock == 0 {
		c.Rollup.MaxBlock = defaultMaxBlock
	}
}
