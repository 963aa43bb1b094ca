package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// maxIncludeDepth bounds nested include chains.
const maxIncludeDepth = 10

// processIncludes merges the YAML files referenced by cfg.Includes into cfg.
// baseDir is the directory of the file that declared the includes. visited
// tracks absolute paths already merged so circular includes fail instead of
// looping.
func processIncludes(cfg *Config, baseDir string, visited map[string]bool, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}
	if visited == nil {
		visited = make(map[string]bool)
	}

	for _, pattern := range cfg.Includes {
		paths, err := resolveIncludePaths(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if visited[abs] {
				return fmt.Errorf("config includes: circular include detected for %q", abs)
			}
			visited[abs] = true

			if err := mergeFile(cfg, abs, visited, depth+1); err != nil {
				return err
			}
		}
	}

	// Clear includes so they don't re-process on the second unmarshal pass.
	cfg.Includes = nil
	return nil
}

// resolveIncludePaths expands environment variables in pattern, resolves it
// relative to baseDir, and returns the matching files. Patterns may contain
// globs; a literal path is returned as-is so the merge step reports a missing
// file. Relative patterns must stay inside the config directory.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	// Patterns may reference environment variables, e.g.
	// "${PAGELENS_CONF_D}/*.yaml".
	pattern = os.ExpandEnv(pattern)

	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	rel, err := filepath.Rel(baseDir, pattern)
	if err == nil && len(rel) >= 2 && rel[:2] == ".." {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		if !hasMeta(pattern) {
			return []string{pattern}, nil
		}
		// A glob matching nothing is not an error.
		return nil, nil
	}
	return matches, nil
}

// hasMeta reports whether the pattern contains any glob metacharacters.
func hasMeta(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// mergeFile unmarshals one include file onto cfg, overlaying existing values,
// then follows any includes the file declares itself.
func mergeFile(cfg *Config, path string, visited map[string]bool, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	// Clear includes before unmarshaling so only this file's includes are
	// detected.
	cfg.Includes = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}

	if len(cfg.Includes) > 0 {
		if err := processIncludes(cfg, filepath.Dir(path), visited, depth); err != nil {
			return err
		}
	}
	return nil
}
