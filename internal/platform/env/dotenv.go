package env

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotenv loads variables from the file named by ENV_FILE (default .env)
// without overriding the process environment. A missing file is not an error.
func LoadDotenv() error {
	path := strings.TrimSpace(String("ENV_FILE", ".env"))
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
