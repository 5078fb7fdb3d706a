package config

import (
	"log"
	"os"
	"strconv"
)

// GetString reads an environment variable, falling back when it is unset.
// An empty value counts as set; only absence triggers the fallback.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt reads an environment variable as an integer. Unparseable values
// are logged and replaced with the fallback rather than aborting startup.
func GetInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetBool reads an environment variable as a boolean, with the same
// fallback behavior as GetInt.
func GetBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}
