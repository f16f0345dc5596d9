package config

import (
	"errors"
	"fmt"
	"runtime"
	"sort"

	keelerrors "github.com/keelframe/keel/internal/errors"
)

// Validator validates configuration and sets smart defaults
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates configuration and applies smart defaults
// Returns an error if validation fails
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	if err := v.validateProjectConfig(&cfg.Project); err != nil {
		return keelerrors.NewConfigError("project", "", err)
	}

	if err := v.validateWorkspaceConfig(&cfg.Workspace); err != nil {
		return keelerrors.NewConfigError("workspace", "", err)
	}

	if err := v.validateBudgetConfig(&cfg.Budget); err != nil {
		return keelerrors.NewConfigError("budget", "", err)
	}

	if err := v.validateResourceConfig(&cfg.Resource); err != nil {
		return keelerrors.NewConfigError("resource", "", err)
	}

	v.setSmartDefaults(cfg)
	return nil
}

// validateProjectConfig validates project configuration
func (v *Validator) validateProjectConfig(project *Project) error {
	if project.Root == "" {
		return errors.New("project root cannot be empty")
	}
	return nil
}

// validateWorkspaceConfig validates workspace lifecycle configuration
func (v *Validator) validateWorkspaceConfig(ws *Workspace) error {
	if ws.IdleEviction <= 0 {
		return fmt.Errorf("IdleEviction must be positive, got %v", ws.IdleEviction)
	}
	if ws.SweepInterval <= 0 {
		return fmt.Errorf("SweepInterval must be positive, got %v", ws.SweepInterval)
	}
	if ws.SweepInterval > ws.IdleEviction {
		return fmt.Errorf("SweepInterval %v must not exceed IdleEviction %v", ws.SweepInterval, ws.IdleEviction)
	}
	if ws.CloseGrace < 0 {
		return fmt.Errorf("CloseGrace must be non-negative, got %v", ws.CloseGrace)
	}
	if ws.MaxWorkers < 0 {
		return fmt.Errorf("MaxWorkers must be non-negative, got %d", ws.MaxWorkers)
	}
	if ws.StaleRetryLimit < 0 || ws.StaleRetryLimit > 5 {
		return fmt.Errorf("StaleRetryLimit must be between 0 and 5, got %d", ws.StaleRetryLimit)
	}
	return nil
}

// validateBudgetConfig validates token budget configuration
func (v *Validator) validateBudgetConfig(b *Budget) error {
	if b.MaxTokens <= 0 {
		return fmt.Errorf("MaxTokens must be positive, got %d", b.MaxTokens)
	}
	if b.MinUsefulTokens < 0 || b.MinUsefulTokens > b.MaxTokens {
		return fmt.Errorf("MinUsefulTokens must be between 0 and MaxTokens, got %d", b.MinUsefulTokens)
	}
	if b.SampleSize <= 0 {
		return fmt.Errorf("SampleSize must be positive, got %d", b.SampleSize)
	}
	if b.Irregularity < 1 {
		return fmt.Errorf("Irregularity must be at least 1, got %v", b.Irregularity)
	}
	if b.CharsPerToken <= 0 {
		return fmt.Errorf("CharsPerToken must be positive, got %v", b.CharsPerToken)
	}
	if b.JSONOverhead < 1 {
		return fmt.Errorf("JSONOverhead must be at least 1, got %v", b.JSONOverhead)
	}
	if len(b.Steps) == 0 {
		return errors.New("Steps must not be empty")
	}
	for _, s := range b.Steps {
		if s <= 0 {
			return fmt.Errorf("Steps must all be positive, got %d", s)
		}
	}
	return nil
}

// validateResourceConfig validates resource store configuration
func (v *Validator) validateResourceConfig(r *Resource) error {
	if r.TTL <= 0 {
		return fmt.Errorf("TTL must be positive, got %v", r.TTL)
	}
	if r.SweepInterval <= 0 {
		return fmt.Errorf("SweepInterval must be positive, got %v", r.SweepInterval)
	}
	if r.MaxEntries <= 0 {
		return fmt.Errorf("MaxEntries must be positive, got %d", r.MaxEntries)
	}
	return nil
}

// setSmartDefaults fills in values that depend on the host machine and
// normalizes the reduction step sequence.
func (v *Validator) setSmartDefaults(cfg *Config) {
	if cfg.Workspace.MaxWorkers == 0 {
		cfg.Workspace.MaxWorkers = runtime.NumCPU()
	}

	// The reducer assumes a strictly descending sequence.
	sort.Sort(sort.Reverse(sort.IntSlice(cfg.Budget.Steps)))
	deduped := cfg.Budget.Steps[:0]
	last := -1
	for _, s := range cfg.Budget.Steps {
		if s != last {
			deduped = append(deduped, s)
			last = s
		}
	}
	cfg.Budget.Steps = deduped

	if cfg.Watch.Debounce <= 0 {
		cfg.Watch.Debounce = DefaultWatchDebounce
	}
}
