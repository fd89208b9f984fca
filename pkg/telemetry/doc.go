// Package telemetry provides notify.Observer implementations for Prometheus
// metrics and OpenTelemetry tracing.
//
// Observers are attached per controller with notify.WithObserver and can be
// combined with notify.Observers:
//
//	obs := notify.Observers(
//	    telemetry.Prometheus(),
//	    telemetry.NewTracer(telemetry.WithTracerName("cart")),
//	)
//	cart := notify.New(notify.WithName("cart"), notify.WithObserver(obs))
//
// Expose the metrics with promhttp:
//
//	http.Handle("/metrics", promhttp.Handler())
package telemetry
