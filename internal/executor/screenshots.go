// internal/executor/screenshots.go
package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// ScreenshotPath builds {dir}/step_{NN}_{type}_{safe_task}_{timestamp}.png.
func ScreenshotPath(dir string, stepIndex int, actionType schemas.ActionType, task string, at time.Time) string {
	name := fmt.Sprintf("step_%02d_%s_%s_%s.png",
		stepIndex,
		actionType,
		schemas.SafeFileComponent(task, 30, "task"),
		at.Format(schemas.TimestampLayout),
	)
	return filepath.Join(dir, name)
}

func writeScreenshot(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	return nil
}
