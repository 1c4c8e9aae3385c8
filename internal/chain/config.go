package chain

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownChain is returned when no chain has the requested id.
var ErrUnknownChain = errors.New("unknown chain")

// ChainType names a predefined chain.
type ChainType string

const (
	FullAnalysis    ChainType = "FULL_ANALYSIS"
	PrimaryOnly     ChainType = "PRIMARY_ONLY"
	SocialTechnical ChainType = "SOCIAL_TECHNICAL"
)

func ParseChainType(s string) (ChainType, error) {
	switch t := ChainType(strings.ToUpper(strings.TrimSpace(s))); t {
	case FullAnalysis, PrimaryOnly, SocialTechnical:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChain, s)
	}
}

// Config describes one chain. It is a value: runs never modify it.
type Config struct {
	ID                  string   `yaml:"id" json:"id"`
	Description         string   `yaml:"description" json:"description"`
	Steps               []string `yaml:"steps" json:"steps"`
	CalculateScoreAtEnd bool     `yaml:"calculate-score-at-end" json:"calculate_score_at_end"`
	// ScoreOnStop also scores runs that stopped early.
	ScoreOnStop    bool `yaml:"score-on-stop" json:"score_on_stop"`
	ForceReanalyze bool `yaml:"force-reanalyze" json:"force_reanalyze"`
}

// Predefined returns the built-in chain of the type.
func Predefined(t ChainType) (Config, error) {
	switch t {
	case FullAnalysis:
		return Config{
			ID:          string(FullAnalysis),
			Description: "Full analysis of a posting through every step",
			Steps: []string{
				StepPrimary, StepStopFactors, StepSocial, StepTechnical, StepCompensation,
				StepBenefits, StepEquipment, StepIndustry, StepWorkConditions,
			},
			CalculateScoreAtEnd: true,
		}, nil
	case PrimaryOnly:
		return Config{
			ID:                  string(PrimaryOnly),
			Description:         "Primary Java check only",
			Steps:               []string{StepPrimary},
			CalculateScoreAtEnd: true,
		}, nil
	case SocialTechnical:
		return Config{
			ID:                  string(SocialTechnical),
			Description:         "Social and technical analysis",
			Steps:               []string{StepSocial, StepTechnical},
			CalculateScoreAtEnd: true,
		}, nil
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownChain, t)
	}
}

// WithForce returns a copy of the config with ForceReanalyze set.
func (c Config) WithForce(force bool) Config {
	c.Steps = append([]string(nil), c.Steps...)
	c.ForceReanalyze = force
	return c
}

// Validate checks the config against the known steps. steps may be nil to
// check only the shape.
func (c Config) Validate(steps *Steps) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("chain id is required")
	}
	if len(c.Steps) == 0 {
		return fmt.Errorf("chain %s has no steps", c.ID)
	}

	seen := make(map[string]struct{}, len(c.Steps))
	for _, id := range c.Steps {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("chain %s lists step %q twice", c.ID, id)
		}
		seen[id] = struct{}{}

		if steps != nil {
			if _, err := steps.Lookup(id); err != nil {
				return fmt.Errorf("chain %s: %w", c.ID, err)
			}
		}
	}
	return nil
}

// Catalog holds the chains available by id. Ids are case-insensitive.
type Catalog struct {
	configs map[string]Config
}

// NewCatalog returns a catalog holding the predefined chains.
func NewCatalog() *Catalog {
	c := &Catalog{configs: make(map[string]Config)}
	for _, t := range []ChainType{FullAnalysis, PrimaryOnly, SocialTechnical} {
		cfg, _ := Predefined(t)
		c.configs[cfg.ID] = cfg
	}
	return c
}

func (c *Catalog) Get(id string) (Config, error) {
	cfg, ok := c.configs[strings.ToUpper(strings.TrimSpace(id))]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownChain, id)
	}
	return cfg.WithForce(cfg.ForceReanalyze), nil
}

// Add registers a custom chain. Predefined chains cannot be replaced.
func (c *Catalog) Add(cfg Config, steps *Steps) error {
	cfg.ID = strings.ToUpper(strings.TrimSpace(cfg.ID))
	if err := cfg.Validate(steps); err != nil {
		return err
	}
	if _, err := ParseChainType(cfg.ID); err == nil {
		return fmt.Errorf("chain %s is predefined", cfg.ID)
	}
	c.configs[cfg.ID] = cfg.WithForce(cfg.ForceReanalyze)
	return nil
}

// List returns every chain sorted by id.
func (c *Catalog) List() []Config {
	out := make([]Config, 0, len(c.configs))
	for _, cfg := range c.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type catalogFile struct {
	Chains []Config `yaml:"chains"`
}

// Load adds the chains of a YAML document:
//
//	chains:
//	  - id: quick
//	    steps: [primary, stop_factors]
//	    calculate-score-at-end: true
func (c *Catalog) Load(data []byte, steps *Steps) (int, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse chains: %w", err)
	}
	for i, cfg := range file.Chains {
		if err := c.Add(cfg, steps); err != nil {
			return i, err
		}
	}
	return len(file.Chains), nil
}

func (c *Catalog) LoadFile(path string, steps *Steps) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read chains file: %w", err)
	}
	return c.Load(data, steps)
}
