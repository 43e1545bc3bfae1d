// Package telemetry defines the Prometheus collectors exported on /metrics.
package telemetry
