package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrUnreachable marks transport failures: the host could not be reached or the
// connection broke while a command ran.
var ErrUnreachable = errors.New("host unreachable")

// Unreachable wraps err as a transport failure for host.
func Unreachable(host string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnreachable, host, err)
}

// IsUnreachable reports whether err is a transport failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// Connection runs commands and moves files on one host. A non-zero exit status
// is reported in the CommandResult; a returned error means the command could not run.
type Connection interface {
	ExecuteCommand(ctx context.Context, command string, opts *CommandOptions) (*CommandResult, error)
	Stat(path string, follow bool) (os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, mode os.FileMode) error
	SetFileMode(path, modeStr string) error
	Close() error
}
