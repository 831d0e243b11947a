package policy

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

// IgnoreFileName holds gitignore-style patterns, one per line.
const IgnoreFileName = ".docsyncignore"

func loadIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	slog.Debug("loaded ignore file", "path", path, "rules", len(lines))
	return lines, nil
}
