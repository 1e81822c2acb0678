package config

import (
	"fmt"

	"github.com/joho/godotenv"
)

// loadEnvFile loads the first readable of .env and .env.local. Variables that
// are already set in the process environment win.
func loadEnvFile() error {
	for _, path := range []string{".env", ".env.local"} {
		if err := godotenv.Load(path); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}
