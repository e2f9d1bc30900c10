// pkg/utils/utils.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FindConfigFile looks for fileName in the current directory, then in .mcp/.
func FindConfigFile(fileName string) (string, error) {
	if filepath.IsAbs(fileName) {

		return fileName, nil
	}

	if _, err := os.Stat(fileName); err == nil {

		return fileName, nil
	}

	mcpFile := filepath.Join(".mcp", fileName)
	if _, err := os.Stat(mcpFile); err == nil {

		return mcpFile, nil
	}

	return "", fmt.Errorf("config file '%s' not found: %w", fileName, os.ErrNotExist)
}

// FormatDuration formats a duration in a human-readable format
func FormatDuration(d time.Duration) string {
	if d.Hours() > 24 {
		days := int(d.Hours() / 24)

		return fmt.Sprintf("%d days", days)
	}

	if d.Hours() >= 1 {

		return fmt.Sprintf("%.1f hours", d.Hours())
	}

	if d.Minutes() >= 1 {

		return fmt.Sprintf("%.1f minutes", d.Minutes())
	}

	if d.Seconds() >= 1 {

		return fmt.Sprintf("%.1f seconds", d.Seconds())
	}

	if d <= 0 {

		return "none"
	}

	return "less than a second"
}

// ParseEnvFile reads KEY=VALUE lines, skipping blanks and # comments and
// stripping surrounding quotes.
func ParseEnvFile(filePath string) (map[string]string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {

		return nil, err
	}

	envVars := make(map[string]string)

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		envVars[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}

	return envVars, nil
}
