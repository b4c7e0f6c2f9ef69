// Package dotenv loads local development settings for the parley CLI from
// dotenv-style files. File values never override variables already set in
// the process environment, so exported shell configuration wins.
package dotenv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Load applies ".env" from the working directory when it exists.
func Load() error {
	return LoadFile(".env")
}

// LoadFile reads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error, so a checkout without local settings
// works out of the box.
func LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open env file %q: %w", path, err)
	}
	defer file.Close()

	vars, err := parse(file)
	if err != nil {
		return fmt.Errorf("parse env file %q: %w", path, err)
	}
	for key, val := range vars {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("set env %q from %q: %w", key, path, err)
		}
	}
	return nil
}

// parse collects the assignments from a dotenv stream. Blank lines and "#"
// comments are skipped; an optional "export " prefix and single or double
// quotes around the value are stripped.
func parse(r io.Reader) (map[string]string, error) {
	vars := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, val, ok := splitAssignment(scanner.Text())
		if ok {
			vars[key] = val
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return vars, nil
}

func splitAssignment(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	return key, unquote(strings.TrimSpace(val)), true
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	for _, q := range []string{`"`, "'"} {
		if strings.HasPrefix(val, q) && strings.HasSuffix(val, q) {
			return val[1 : len(val)-1]
		}
	}
	return val
}
