package plugin

import (
	"github.com/dshills/modhost/internal/plugin/isolation"
	"github.com/dshills/modhost/internal/plugin/lua"
)

// LogClass is the host module Lua code requires to write to the host log.
const LogClass = "modhost.log"

// DefaultHost returns a registry with the host classes every module can
// reach: LogClass.
func DefaultHost() *isolation.HostRegistry {
	r := isolation.NewHostRegistry()
	if err := r.RegisterDefinition(LogClass, lua.LogModule()); err != nil {
		panic(err)
	}
	return r
}
