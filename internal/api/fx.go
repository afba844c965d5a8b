// Package api serves sync configuration management and the manual "sync now"
// trigger over HTTP.
package api

import (
	"go.uber.org/fx"
)

var Module = fx.Module("api",
	fx.Provide(
		NewServer,
	),
)
