// Package config holds the modhost settings.
//
// Settings are layered, later layers overriding earlier ones:
//
//  1. Built-in defaults (Default)
//  2. The TOML file passed to Load
//  3. MODHOST_* environment variables
//
// A file looks like:
//
//	[log]
//	level = "debug"
//
//	[modules]
//	root = "/srv/modules"
//	type = "USER"
//	forbidden = ["acme.internal"]
//
//	[executor]
//	core_size = 4
//	max_size = 16
//	keep_alive = "30s"
//
// The environment variable for a key is its section and key upper-cased
// behind the prefix: MODHOST_EXECUTOR_MAX_SIZE=32.
package config
