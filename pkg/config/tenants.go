package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tradebot-core/internal/errs"
	"tradebot-core/pkg/db"
)

// Tenant is one bot config entry in the seed YAML.
type Tenant struct {
	ID               string   `yaml:"id"`
	Active           bool     `yaml:"is_active"`
	CapitalFloor     float64  `yaml:"capital_floor"`
	MaxDailyLoss     float64  `yaml:"max_daily_loss"`
	TargetVolatility float64  `yaml:"target_volatility"`
	Symbols          []string `yaml:"symbols"`
}

// TenantsFile represents the top-level YAML structure.
type TenantsFile struct {
	Tenants []Tenant `yaml:"tenants"`
}

// Defaults applied when an entry leaves a limit unset.
const (
	DefaultCapitalFloor     = 0.97
	DefaultMaxDailyLoss     = 0.015
	DefaultTargetVolatility = 0.1
)

// LoadTenants reads and validates the tenant seed file. A missing file yields
// no tenants and no error.
func LoadTenants(path string) ([]db.TenantBotConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseTenants(data)
}

// ParseTenants decodes and validates seed YAML. Unset limits take the
// defaults; symbols are upper-cased and de-duplicated.
func ParseTenants(data []byte) ([]db.TenantBotConfig, error) {
	var file TenantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse tenants: %v", errs.ErrValidation, err)
	}

	seen := make(map[string]struct{}, len(file.Tenants))
	out := make([]db.TenantBotConfig, 0, len(file.Tenants))
	for i, t := range file.Tenants {
		t.ID = strings.TrimSpace(t.ID)
		if t.CapitalFloor == 0 {
			t.CapitalFloor = DefaultCapitalFloor
		}
		if t.MaxDailyLoss == 0 {
			t.MaxDailyLoss = DefaultMaxDailyLoss
		}
		if t.TargetVolatility == 0 {
			t.TargetVolatility = DefaultTargetVolatility
		}
		t.Symbols = normalizeSymbols(t.Symbols)

		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("tenant #%d (%q): %w", i+1, t.ID, err)
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate tenant id %q", errs.ErrValidation, t.ID)
		}
		seen[t.ID] = struct{}{}

		out = append(out, db.TenantBotConfig{
			TenantID:         t.ID,
			Active:           t.Active,
			CapitalFloor:     t.CapitalFloor,
			MaxDailyLoss:     t.MaxDailyLoss,
			TargetVolatility: t.TargetVolatility,
			Symbols:          t.Symbols,
		})
	}
	return out, nil
}

func (t Tenant) validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: id is required", errs.ErrValidation)
	case t.CapitalFloor <= 0 || t.CapitalFloor > 1:
		return fmt.Errorf("%w: capital_floor must be in (0, 1], got %v", errs.ErrValidation, t.CapitalFloor)
	case t.MaxDailyLoss <= 0 || t.MaxDailyLoss >= 1:
		return fmt.Errorf("%w: max_daily_loss must be in (0, 1), got %v", errs.ErrValidation, t.MaxDailyLoss)
	case t.TargetVolatility <= 0:
		return fmt.Errorf("%w: target_volatility must be positive, got %v", errs.ErrValidation, t.TargetVolatility)
	case len(t.Symbols) == 0:
		return fmt.Errorf("%w: at least one symbol is required", errs.ErrValidation)
	}
	return nil
}

func normalizeSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
