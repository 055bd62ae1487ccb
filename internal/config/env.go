package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/Bidon15/popdeploy"
)

// DefaultEnvFile is the secrets file read when no --env-file is given.
const DefaultEnvFile = ".env"

// LoadEnvironment loads key/value pairs from the env file at path into the process
// environment. Variables that are already set are left untouched.
//
// A missing file is not an error: configuration may come entirely from the
// environment of the invoking shell or CI job.
func LoadEnvironment(path string) error {
	if path == "" {
		path = DefaultEnvFile
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return popdeploy.WrapConfigurationError("env_file", fmt.Sprintf("stat %s", path), err)
	}

	if err := godotenv.Load(path); err != nil {
		return popdeploy.WrapConfigurationError("env_file", fmt.Sprintf("parse %s", path), err)
	}
	return nil
}
