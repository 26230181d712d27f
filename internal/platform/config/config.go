package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is read by Load when no paths are given.
const DefaultEnvFile = ".env"

// Load sets environment variables from dotenv files without overriding
// values already present. With no paths it reads DefaultEnvFile and treats
// a missing file as empty; explicitly named files must exist.
func Load(paths ...string) error {
	if len(paths) == 0 {
		if _, err := os.Stat(DefaultEnvFile); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		paths = []string{DefaultEnvFile}
	}
	return godotenv.Load(paths...)
}

// lookup parses the variable named by key, returning fallback when it is
// unset, empty or rejected by parse.
func lookup[T any](key string, fallback T, parse func(string) (T, error)) T {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := parse(s)
	if err != nil {
		return fallback
	}
	return v
}

// GetEnv returns the variable named by key, or fallback when unset or empty.
func GetEnv(key, fallback string) string {
	return lookup(key, fallback, func(s string) (string, error) { return s, nil })
}

// GetEnvInt reads a base-10 integer.
func GetEnvInt(key string, fallback int) int {
	return lookup(key, fallback, strconv.Atoi)
}

// GetEnvInt64 reads a base-10 64-bit integer, e.g. a byte limit.
func GetEnvInt64(key string, fallback int64) int64 {
	return lookup(key, fallback, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
}

// GetEnvFloat reads a floating point value such as a segment duration.
func GetEnvFloat(key string, fallback float64) float64 {
	return lookup(key, fallback, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// GetEnvBool accepts the forms understood by strconv.ParseBool.
func GetEnvBool(key string, fallback bool) bool {
	return lookup(key, fallback, strconv.ParseBool)
}

// GetEnvDuration parses values like "30s" or "12h"; a bare number is seconds.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	return lookup(key, fallback, func(s string) (time.Duration, error) {
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		n, err := strconv.ParseFloat(s, 64)
		return time.Duration(n * float64(time.Second)), err
	})
}

// GetEnvList splits a comma-separated value, dropping empty items.
func GetEnvList(key string, fallback []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
