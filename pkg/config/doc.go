// Package config loads larder's settings.
//
// Values are resolved in three layers, each overriding the one before:
// built-in defaults, an optional YAML file, then environment variables.
// The merged result is validated before it is returned.
//
//	cfg, err := config.Load("larder.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mgr := stores.NewManager(cfg.ManagerConfig())
//
// # Environment
//
//	LARDER_DATA_DIR          directory holding the database file
//	LARDER_DB_FILE           database file name (local.db)
//	LARDER_DATABASE_URL      remote primary URL
//	LARDER_AUTH_TOKEN        remote auth token
//	LARDER_RETRY_ATTEMPTS    replica connection rounds (3)
//	LARDER_RETRY_DELAY       pause between rounds (2s)
//	LARDER_MIGRATE           apply embedded migrations after init
//	LARDER_SYNC_ENABLED      run the background sync coordinator
//	LARDER_SYNC_INTERVAL     periodic sync interval (5s)
//	LARDER_SYNC_DEBOUNCE     quiet period after writes (300ms)
//	LOG_LEVEL                trace, debug, info, warn, error
//	LARDER_LOG_FORMAT        console or json
//	LARDER_METRICS_ENABLED   serve Prometheus metrics
//	LARDER_METRICS_ADDR      metrics listen address
//	LARDER_TRACE_EXPORTER    none, stdout or otlp
//	OTEL_EXPORTER_OTLP_ENDPOINT
//
// Watch reloads the file when it changes and hands each valid revision to
// a callback; the serve command uses it to reconnect.
package config
