package sandbox

import (
	"context"
	"fmt"
	"os"
)

// unavailableSandboxManager is a placeholder Manager/Sandbox that reports a
// construction error on every operation that would otherwise need a working
// sandbox. It lets callers hold a non-nil Sandbox/Manager even when sandbox
// setup failed, rather than threading a separate error return everywhere.
type unavailableSandboxManager struct {
	err error
}

// NewUnavailableSandboxManager returns a Manager that fails every operation
// with err (or a generic "sandbox unavailable" error if err is nil).
func NewUnavailableSandboxManager(err error) Manager {
	return &unavailableSandboxManager{err: err}
}

func (u *unavailableSandboxManager) unavailable() error {
	if u.err != nil {
		return fmt.Errorf("sandbox unavailable: %w", u.err)
	}
	return fmt.Errorf("sandbox unavailable")
}

func (u *unavailableSandboxManager) Start(ctx context.Context) error {
	return u.unavailable()
}

func (u *unavailableSandboxManager) Prune(ctx context.Context) error {
	return nil
}

func (u *unavailableSandboxManager) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	return nil, u.unavailable()
}

func (u *unavailableSandboxManager) ExecStream(ctx context.Context, req ExecRequest, onEvent func(ExecEvent) error) (*ExecResult, error) {
	return nil, u.unavailable()
}

func (u *unavailableSandboxManager) Fs() FsBridge {
	return &unavailableFsBridge{err: u.unavailable()}
}

func (u *unavailableSandboxManager) Resolve(ctx context.Context) (Sandbox, error) {
	return nil, u.unavailable()
}

type unavailableFsBridge struct {
	err error
}

func (f *unavailableFsBridge) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return nil, f.err
}

func (f *unavailableFsBridge) WriteFile(ctx context.Context, path string, data []byte, mkdir bool) error {
	return f.err
}

func (f *unavailableFsBridge) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	return nil, f.err
}
