// Package domain holds the core entities shared across the delivery engine:
// campaigns and their lifecycle states, delivery events, daily aggregates,
// and durable queue jobs. It has no dependencies on other internal packages.
package domain
