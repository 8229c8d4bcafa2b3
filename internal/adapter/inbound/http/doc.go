// Package http serves the operational endpoints of a running gate over HTTP.
//
// # Endpoints
//
//	GET /metrics  - Prometheus metrics (calls, dispatches, connections, exports)
//	GET /health   - JSON health report, 503 when a check fails
//	GET /calls    - recent audited calls as JSON, newest first (?n=50)
//
// # Usage
//
//	reg := http.NewRegistry()
//	metrics := http.NewMetrics(reg)
//	// pass metrics to connections via service.WithObserver
//	srv := http.NewServer(reg, metrics,
//	    http.WithAddr("127.0.0.1:9464"),
//	    http.WithHealthChecker(http.NewHealthChecker(version)),
//	    http.WithLogger(logger),
//	    http.WithCallSource(callLog),
//	)
//	err := srv.Start(ctx)
//
// Requests pass through RequestIDMiddleware and then MetricsMiddleware, so
// every request is logged with a request_id and counted by path.
package http
