// Package types provides shared data structures for the fleet backend.
//
// This package defines core types used across all backend components,
// ensuring type safety and consistent data structures.
//
// Core Types:
//   - Profile: Persisted messaging profile record
//   - ResourceSample, NetworkSample: Monitoring data points
//   - HealthCheck: Health verdict with supporting details
//   - Alert: Notification event pushed to operators
//   - RestartRecord: Auto-restart bookkeeping per profile
//
// State Management:
//   - ProfileStatus: Profile lifecycle enum (stopped, starting, running, ...)
//   - HealthStatus: Health verdict enum (healthy, degraded, unhealthy, unknown)
package types
