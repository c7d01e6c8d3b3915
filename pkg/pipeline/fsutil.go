package pipeline

import (
	"os"
	"path/filepath"
	"strings"
)

func readRepoFile(repoPath, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(repoPath, name))
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// findSolidityFiles walks repoPath for .sol files, skipping the
// conventional test/ tree so coverage accounting reflects production
// contracts, not test harnesses.
func findSolidityFiles(repoPath string) ([]string, error) {
	var out []string
	err := filepath.Walk(repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "test" || info.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".sol") {
			out = append(out, path)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return out, err
}
