/*
Package config loads the core's startup configuration.

Precedence, lowest to highest:

	Defaults (NewDefault) < Configuration file (LoadFromFile) < Environment (LoadFromEnv)

The enumerated options are exactly those the core recognizes: core_threads,
delegation_threads, cache_ttl, max_fds, and a modules[] list of per-backend
entries (module_name, module_path, config_data). See spec.md §6.
*/
package config
