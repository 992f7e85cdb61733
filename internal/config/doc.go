// Package config handles configuration loading for the backend service.
//
// Values come from an optional YAML file (with ${VAR} interpolation) and are
// then overridden by environment variables:
//
//	SARANGA_DATABASE__MAX_CONNS=20   -> database.max_conns
//	SARANGA_RETRY__INITIAL_DELAY=2s  -> retry.initial_delay
//
// The legacy variable names used by earlier deployments (DATABASE_URL,
// PG_POOL_MAX, PG_POOL_MIN, PG_POOL_IDLE_TIMEOUT, PG_POOL_CONNECTION_TIMEOUT,
// PG_APPLICATION_NAME, NODE_ENV, PORT) are still honored. The PG_POOL_*
// timeouts are milliseconds.
package config
