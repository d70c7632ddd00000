// Package telemetry provides logging, tracing, metrics and lifecycle events
// for the octane controller.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an in-process event publisher
// behind a single Telemetry value.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Every orchestrator operation is wrapped in StartOperation, which opens a
// span, tags the logger and records the outcome when End is called:
//
//	ic := tel.StartOperation(ctx, "failover_amphora", amphoraID)
//	err := run(ic.Ctx)
//	ic.End(err)
//
// The engine reports flow progress through Telemetry.EngineEvents, which
// counts flow runs and task reverts and republishes flow events:
//
//	eng := engine.NewEngine(reg, engine.WithEventPublisher(tel.EngineEvents()))
//
// # Logging
//
// Loggers carry the controller's field names:
//
//	logger := tel.Logger.NewComponentLogger("controller").
//	    WithLoadBalancerID(lbID).
//	    WithAmphoraID(amphoraID)
//	logger.Warn("failover may be slow while a new amphora boots")
//
// # Metrics
//
// Key metrics exposed (namespace "octane"):
//
//   - octane_operations_total{operation,result}
//   - octane_operation_duration_seconds{operation}
//   - octane_flow_runs_total{flow,status}
//   - octane_task_reverts_total{flow}
//   - octane_convergence_exhaustions_total{entity}
//   - octane_failover_compensations_total{result}
//   - octane_queue_jobs_total{operation,result}
//   - octane_spare_amphorae{availability_zone}
//   - octane_errors_by_class_total{class} and octane_errors_by_code_total{code}
//
// # Events
//
// Events are buffered and delivered to subscribers asynchronously. The queue
// package subscribes an EventWriter that forwards them to Kafka:
//
//	tel.Events.Subscribe(writer.Handle, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// # Exporters
//
// Tracing supports the "stdout", "otlp" and "none" exporters, selected by
// TracingConfig.Exporter.
package telemetry
