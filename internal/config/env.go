package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// EnvFileName is the dotenv file read from the home directory.
const EnvFileName = ".env"

var (
	envMu sync.Mutex
	// fromEnvFile holds the variables LoadEnv set and the values it set them
	// to. Only those may be replaced or removed by a later LoadEnv.
	fromEnvFile = map[string]string{}
)

// EnvPath returns the path of the .env file within homeDir.
func EnvPath(homeDir string) string {
	return filepath.Join(homeDir, EnvFileName)
}

// LoadEnv applies homeDir/.env to the process environment. Variables that
// are already set to a non-empty value by anything other than a previous
// LoadEnv win over the file. Calling it again after the file changed updates
// the values it set earlier and unsets those the file no longer lists. A
// missing file counts as empty.
func LoadEnv(homeDir string) error {
	vals, err := godotenv.Read(EnvPath(homeDir))
	if errors.Is(err, fs.ErrNotExist) {
		vals, err = map[string]string{}, nil
	}
	if err != nil {
		return err
	}

	envMu.Lock()
	defer envMu.Unlock()
	for key, prev := range fromEnvFile {
		if _, listed := vals[key]; listed {
			continue
		}
		if os.Getenv(key) == prev {
			_ = os.Unsetenv(key)
		}
		delete(fromEnvFile, key)
	}
	for key, val := range vals {
		cur := os.Getenv(key)
		if prev, ours := fromEnvFile[key]; cur != "" && (!ours || cur != prev) {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return err
		}
		fromEnvFile[key] = val
	}
	return nil
}
