// Package config loads experiment authoring documents: a YAML file declaring
// an experiment configuration, its ordered rounds, and the parameters its
// experiment type records. Documents are installed once at setup time through
// the core service.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"roundcore/pkg/domain"
)

// Document is the top-level authoring format.
type Document struct {
	Name           string      `yaml:"name"`
	ExperimentType string      `yaml:"experiment_type"`
	MaxGroupSize   int         `yaml:"max_group_size"`
	Rounds         []Round     `yaml:"rounds"`
	Parameters     []Parameter `yaml:"parameters"`
}

// Round declares one round configuration.
type Round struct {
	SequenceNumber         int    `yaml:"sequence_number"`
	RoundType              string `yaml:"round_type"`
	Repeat                 int    `yaml:"repeat"`
	DurationSeconds        int    `yaml:"duration_seconds"`
	RandomizeGroups        bool   `yaml:"randomize_groups"`
	PreserveExistingGroups bool   `yaml:"preserve_existing_groups"`
	CreateGroupClusters    bool   `yaml:"create_group_clusters"`
	SessionID              string `yaml:"session_id"`
	InitializeDataValues   bool   `yaml:"initialize_data_values"`
}

// Parameter declares one registry entry. Default is decoded loosely by the
// YAML parser and validated against Type during conversion.
type Parameter struct {
	Name        string `yaml:"name"`
	Scope       string `yaml:"scope"`
	Type        string `yaml:"type"`
	Default     any    `yaml:"default"`
	MultiValued bool   `yaml:"multi_valued"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
}

// Load reads and validates a document from path.
func Load(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a document.
func Parse(raw []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode config: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Validate checks structural constraints before installation.
func (d Document) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("config: name is required")
	}
	if d.ExperimentType == "" {
		return fmt.Errorf("config %s: experiment_type is required", d.Name)
	}
	if d.MaxGroupSize <= 0 {
		return fmt.Errorf("config %s: max_group_size must be positive", d.Name)
	}
	if len(d.Rounds) == 0 {
		return fmt.Errorf("config %s: at least one round is required", d.Name)
	}
	seen := make(map[int]bool, len(d.Rounds))
	for _, round := range d.Rounds {
		if round.Repeat < 0 {
			return fmt.Errorf("config %s: round %d has negative repeat", d.Name, round.SequenceNumber)
		}
		if seen[round.SequenceNumber] {
			return fmt.Errorf("config %s: duplicate round sequence %d", d.Name, round.SequenceNumber)
		}
		seen[round.SequenceNumber] = true
	}
	for _, parameter := range d.Parameters {
		if _, err := parameter.toDomain(d.ExperimentType); err != nil {
			return fmt.Errorf("config %s: %w", d.Name, err)
		}
	}
	return nil
}

// Configuration converts the document head into the domain entity.
func (d Document) Configuration() domain.ExperimentConfiguration {
	return domain.ExperimentConfiguration{
		Name:           d.Name,
		ExperimentType: d.ExperimentType,
		MaxGroupSize:   d.MaxGroupSize,
	}
}

// RoundConfigurations converts the declared rounds, ordered by sequence
// number. ConfigurationID is filled in by the installer once the parent
// configuration exists.
func (d Document) RoundConfigurations() []domain.RoundConfiguration {
	out := make([]domain.RoundConfiguration, 0, len(d.Rounds))
	for _, round := range d.Rounds {
		out = append(out, domain.RoundConfiguration{
			SequenceNumber:         round.SequenceNumber,
			RoundType:              round.RoundType,
			Repeat:                 round.Repeat,
			DurationSeconds:        round.DurationSeconds,
			RandomizeGroups:        round.RandomizeGroups,
			PreserveExistingGroups: round.PreserveExistingGroups,
			CreateGroupClusters:    round.CreateGroupClusters,
			SessionID:              round.SessionID,
			InitializeDataValues:   round.InitializeDataValues,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

// DomainParameters converts the declared parameters.
func (d Document) DomainParameters() ([]domain.Parameter, error) {
	out := make([]domain.Parameter, 0, len(d.Parameters))
	for _, parameter := range d.Parameters {
		converted, err := parameter.toDomain(d.ExperimentType)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

func (p Parameter) toDomain(experimentType string) (domain.Parameter, error) {
	if p.Name == "" {
		return domain.Parameter{}, fmt.Errorf("parameter without name")
	}
	scope := domain.ParameterScope(p.Scope)
	if !scope.Valid() {
		return domain.Parameter{}, fmt.Errorf("parameter %s: invalid scope %q", p.Name, p.Scope)
	}
	kind := domain.ParameterType(p.Type)
	if !kind.Valid() {
		return domain.Parameter{}, fmt.Errorf("parameter %s: invalid type %q", p.Name, p.Type)
	}
	parameter := domain.Parameter{
		Name:           p.Name,
		ExperimentType: experimentType,
		Scope:          scope,
		Type:           kind,
		MultiValued:    p.MultiValued,
		DisplayName:    p.DisplayName,
		Description:    p.Description,
	}
	if p.Default != nil {
		scalar, err := domain.ScalarFrom(kind, p.Default)
		if err != nil {
			return domain.Parameter{}, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		parameter.DefaultValue = scalar
	}
	return parameter, nil
}
