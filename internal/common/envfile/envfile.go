// Package envfile reads and updates .env-style files, preserving keys it
// does not own.
package envfile

import (
	"os"

	"github.com/joho/godotenv"
)

// Read loads the env file at path. A missing file returns an empty map.
func Read(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return env, nil
}

// Merge writes the given keys into the env file at path, keeping every
// unrelated key already present.
func Merge(path string, updates map[string]string) error {
	if len(updates) == 0 {
		return nil
	}
	env, err := Read(path)
	if err != nil {
		return err
	}
	for k, v := range updates {
		env[k] = v
	}
	return godotenv.Write(env, path)
}

// Unset removes keys from the env file, leaving the rest in place. Removing
// absent keys is a no-op and does not rewrite the file.
func Unset(path string, keys ...string) error {
	env, err := Read(path)
	if err != nil {
		return err
	}
	changed := false
	for _, k := range keys {
		if _, ok := env[k]; ok {
			delete(env, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return godotenv.Write(env, path)
}
