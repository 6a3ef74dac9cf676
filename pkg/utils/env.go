package utils

import (
	"crypto/rand"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv loads the .env file for the given environment.
// Lookup order: .env.<env>.local, .env.<env>, .env.local, .env
// The first file found wins; a missing file is reported to the caller
// so startup can log it and continue with process environment only.
func LoadEnv(env string) error {
	candidates := []string{".env"}
	if env != "" {
		candidates = []string{
			fmt.Sprintf(".env.%s.local", env),
			fmt.Sprintf(".env.%s", env),
			".env.local",
			".env",
		}
	}

	for _, name := range candidates {
		if _, err := os.Stat(name); err == nil {
			return godotenv.Load(name)
		}
	}
	return fmt.Errorf("no .env file found for env %q", env)
}

// GetEnv returns the trimmed value of an environment variable.
func GetEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// GetIntEnv returns an environment variable as int64, 0 when unset or invalid.
func GetIntEnv(key string) int64 {
	return cast.ToInt64(GetEnv(key))
}

// GetBoolEnv returns an environment variable as bool, false when unset or invalid.
func GetBoolEnv(key string) bool {
	return cast.ToBool(GetEnv(key))
}

// GetDurationEnv returns an environment variable parsed as a time.Duration string.
func GetDurationEnv(key string) int64 {
	return int64(cast.ToDuration(GetEnv(key)))
}

const randTextChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandText generates a random text of the given length.
func RandText(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("x", n)
	}
	for i, b := range buf {
		buf[i] = randTextChars[int(b)%len(randTextChars)]
	}
	return string(buf)
}
