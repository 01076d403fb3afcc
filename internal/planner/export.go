package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// now is swapped out in tests.
var now = time.Now

// SavePlan writes plan as indented JSON into dir and returns the file path.
func SavePlan(dir string, plan *schemas.TaskPlan) (string, error) {
	if plan == nil {
		return "", fmt.Errorf("no plan to save")
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create plan directory: %w", err)
	}

	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode plan: %w", err)
	}

	name := fmt.Sprintf("plan_%s_%s.json",
		schemas.SafeFileComponent(plan.Goal, 30, "task"),
		now().Format(schemas.TimestampLayout))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write plan: %w", err)
	}
	return path, nil
}

// LoadPlan reads a plan written by SavePlan and validates it.
func LoadPlan(path string) (*schemas.TaskPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	var plan schemas.TaskPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return &plan, nil
}
