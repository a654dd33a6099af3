package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hylla/convivencia/internal/domain"
)

// StageCatalog is a YAML description of the due-process sequence:
//
//	stages:
//	  - name: "1. Denuncia"
//	    sla_days: 2
//	  - name: "2. Investigación"
//	    sla_days: 10
type StageCatalog struct {
	Stages []CatalogStage `yaml:"stages"`
}

// CatalogStage is one stage entry; a nil SLADays leaves the SLA unset.
type CatalogStage struct {
	Name    string `yaml:"name"`
	SLADays *int   `yaml:"sla_days"`
}

// LoadStageCatalog reads and validates a YAML stage catalog.
func LoadStageCatalog(path string) (StageCatalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return StageCatalog{}, fmt.Errorf("read stage catalog: %w", err)
	}
	return ParseStageCatalog(content)
}

// ParseStageCatalog decodes and validates YAML catalog content.
func ParseStageCatalog(content []byte) (StageCatalog, error) {
	var catalog StageCatalog
	if err := yaml.Unmarshal(content, &catalog); err != nil {
		return StageCatalog{}, fmt.Errorf("decode stage catalog yaml: %w", err)
	}
	if len(catalog.Stages) == 0 {
		return StageCatalog{}, errors.New("stage catalog must include at least one stage")
	}
	seen := map[string]struct{}{}
	for i := range catalog.Stages {
		name := domain.NormalizeStageLabel(catalog.Stages[i].Name)
		if name == "" {
			return StageCatalog{}, fmt.Errorf("stages[%d].name is required", i)
		}
		if _, dup := seen[name]; dup {
			return StageCatalog{}, fmt.Errorf("stages[%d].name is duplicated: %s", i, name)
		}
		seen[name] = struct{}{}
		if days := catalog.Stages[i].SLADays; days != nil && *days < 0 {
			return StageCatalog{}, fmt.Errorf("stages[%d].sla_days must be >= 0", i)
		}
		catalog.Stages[i].Name = name
	}
	return catalog, nil
}

// StageNames returns the catalog sequence.
func (c StageCatalog) StageNames() []string {
	out := make([]string, 0, len(c.Stages))
	for _, stage := range c.Stages {
		out = append(out, stage.Name)
	}
	return out
}

// SLA returns the stage to days mapping for stages with an SLA.
func (c StageCatalog) SLA() map[string]int {
	out := map[string]int{}
	for _, stage := range c.Stages {
		if stage.SLADays != nil {
			out[stage.Name] = *stage.SLADays
		}
	}
	return out
}

// Apply replaces the process stages and merges catalog SLA values over configured ones.
func (c StageCatalog) Apply(cfg *Config) {
	cfg.Process.Stages = c.StageNames()
	merged := make(map[string]int, len(cfg.Process.SLA))
	for stage, days := range cfg.Process.SLA {
		merged[strings.TrimSpace(stage)] = days
	}
	for stage, days := range c.SLA() {
		merged[stage] = days
	}
	cfg.Process.SLA = merged
}
