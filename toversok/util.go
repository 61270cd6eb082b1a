package toversok

import (
	"fmt"
	"log/slog"
)

// L returns a logger tagged with the component type of a.
func L(a any) *slog.Logger {
	return slog.With("component", fmt.Sprintf("%T", a))
}
