package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"hookTrader/internal/domain"
)

// profilesFile is the YAML layout of PROFILES_FILE.
type profilesFile struct {
	Profiles []profileConf `yaml:"profiles"`
}

// profileConf holds one named profile. Omitted fields inherit the env defaults.
type profileConf struct {
	Name           string     `yaml:"name"`
	Leverage       *int       `yaml:"leverage"`
	InitialCapital *float64   `yaml:"initial_capital"`
	Compounding    *bool      `yaml:"compounding"`
	Allocation     *float64   `yaml:"allocation"`
	FeeRate        *float64   `yaml:"fee_rate"`
	Long           ladderConf `yaml:"long"`
	Short          ladderConf `yaml:"short"`
}

// ladderConf holds the staged exit settings of one side.
type ladderConf struct {
	TP1Offset        *float64 `yaml:"tp1_offset"`
	TP1Fraction      *float64 `yaml:"tp1_fraction"`
	TP2Offset        *float64 `yaml:"tp2_offset"`
	TP2Fraction      *float64 `yaml:"tp2_fraction"`
	SLOffset         *float64 `yaml:"sl_offset"`
	SLAfterTP1Offset *float64 `yaml:"sl_after_tp1_offset"`
	SLAfterTP2Offset *float64 `yaml:"sl_after_tp2_offset"`
}

// LoadProfiles reads named profiles from a YAML file on top of base.
func LoadProfiles(path string, base domain.Profile) (map[string]domain.Profile, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf profilesFile
	if err := yaml.Unmarshal(file, &pf); err != nil {
		return nil, err
	}
	if len(pf.Profiles) == 0 {
		return nil, fmt.Errorf("%s defines no profiles", path)
	}

	out := make(map[string]domain.Profile, len(pf.Profiles))
	var errs []error
	for _, pc := range pf.Profiles {
		if pc.Name == "" {
			errs = append(errs, errors.New("profile without a name"))
			continue
		}
		if _, dup := out[pc.Name]; dup {
			errs = append(errs, fmt.Errorf("profile %q defined twice", pc.Name))
			continue
		}
		p, err := pc.apply(base)
		if err != nil {
			errs = append(errs, fmt.Errorf("profile %q: %w", pc.Name, err))
			continue
		}
		out[p.Name] = p
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (pc profileConf) apply(base domain.Profile) (domain.Profile, error) {
	p := base
	p.Name = pc.Name
	if pc.Leverage != nil {
		p.Leverage = *pc.Leverage
	}
	if pc.InitialCapital != nil {
		p.InitialCapital = decimal.NewFromFloat(*pc.InitialCapital)
	}
	if pc.Compounding != nil {
		p.Compounding = *pc.Compounding
	}
	if pc.Allocation != nil {
		p.Allocation = decimal.NewFromFloat(*pc.Allocation)
	}
	if pc.FeeRate != nil {
		p.FeeRate = decimal.NewFromFloat(*pc.FeeRate)
	}
	p.Long = pc.Long.apply(base.Long)
	p.Short = pc.Short.apply(base.Short)

	var errs []error
	if p.Leverage <= 0 {
		errs = append(errs, errors.New("leverage must be positive"))
	}
	if !p.InitialCapital.IsPositive() {
		errs = append(errs, errors.New("initial_capital must be positive"))
	}
	if !p.Allocation.IsPositive() || p.Allocation.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("allocation must be in (0, 1]"))
	}
	if err := p.Long.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("long ladder: %w", err))
	}
	if err := p.Short.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("short ladder: %w", err))
	}
	return p, errors.Join(errs...)
}

func (lc ladderConf) apply(base domain.LadderSpec) domain.LadderSpec {
	set := func(dst *decimal.Decimal, v *float64) {
		if v != nil {
			*dst = decimal.NewFromFloat(*v)
		}
	}
	out := base
	set(&out.TP1Offset, lc.TP1Offset)
	set(&out.TP1Fraction, lc.TP1Fraction)
	set(&out.TP2Offset, lc.TP2Offset)
	set(&out.TP2Fraction, lc.TP2Fraction)
	set(&out.SLOffset, lc.SLOffset)
	set(&out.SLAfterTP1Offset, lc.SLAfterTP1Offset)
	set(&out.SLAfterTP2Offset, lc.SLAfterTP2Offset)
	return out
}
