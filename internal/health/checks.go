package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Pinger is anything with a Ping method; the state store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheck probes the state store.
func StoreCheck(p Pinger) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}

// BinaryCheck verifies an external binary resolves. path may be absolute or
// a bare command name resolved against PATH.
func BinaryCheck(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if _, err := exec.LookPath(path); err != nil {
				return fmt.Errorf("%s not found: %w", path, err)
			}
			return nil
		},
	}
}

// FileCheck verifies a required file exists, such as the whisper model.
func FileCheck(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			fi, err := os.Stat(path)
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return fmt.Errorf("%s is a directory", path)
			}
			return nil
		},
	}
}
