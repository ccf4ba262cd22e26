// Package telemetry reports what the database is doing: zerolog logs,
// OpenTelemetry spans, Prometheus series and lifecycle events.
//
//	tel, err := telemetry.New(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Components accept a *Telemetry and use NewNop when given nil.
//
// StartOperation opens a span and tags a logger with the operation name:
//
//	op := tel.StartOperation(ctx, "db.execute", telemetry.AttrMode.String("replica"))
//	defer func() { op.End(err) }()
//
// Series, all under the larder namespace in a private registry:
//
//	larder_replica_connect_attempts_total{scheme,result}
//	larder_local_fallbacks_total
//	larder_init_duration_seconds{mode}
//	larder_connection_mode{mode}
//	larder_statements_total{operation,status}
//	larder_statement_duration_seconds{operation}
//	larder_syncs_total{status}
//	larder_frames_synced_total
//
// Events are db.connected, db.fallback, db.sync.completed and
// db.sync.failed. The serve command forwards them to its host.
package telemetry
