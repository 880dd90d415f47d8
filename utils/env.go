package utils

import (
	"github.com/joho/godotenv"
)

// LoadEnv reads .env files into the process environment. A missing file is
// not an error.
func LoadEnv(files ...string) {
	_ = godotenv.Load(files...)
}
