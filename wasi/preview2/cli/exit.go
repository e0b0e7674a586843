package cli

import (
	"context"

	"github.com/tetratelabs/wazero/sys"
)

// ExitHost implements wasi:cli/exit. The guest is unwound with a
// *sys.ExitError instead of terminating the host process.
type ExitHost struct{}

func NewExitHost() *ExitHost {
	return &ExitHost{}
}

func (h *ExitHost) Namespace() string {
	return "wasi:cli/exit@0.2.8"
}

// Exit receives result<_, _> as its discriminant: 0 is ok, 1 is err.
func (h *ExitHost) Exit(_ context.Context, status uint32) {
	panic(sys.NewExitError(status))
}
