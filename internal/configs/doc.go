// Package configs manages the muna user configuration.
//
// Configuration is stored in TOML at <config dir>/muna/config.toml:
//
//	[user]       user_id (UUID, generated on first use) and device name
//	[directory]  base URL of the key directory service
//	[crypto]     primitive suite for new identity keys
//	[storage]    secure storage backend (file, sealed, memory) and path
//	[rotation]   group rotation concurrency and recompute attempts
//	[retry]      backoff policy for directory calls
//	[server]     listen address, database and rate limit for `muna serve`
//
// # Settings
//
// UserMunaSettings holds resolved paths and is initialized at startup from
// the XDG directories. MUNA_CONFIG_DIR and MUNA_DATA_DIR override them.
package configs
