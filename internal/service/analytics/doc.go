// Package analytics records delivery events and keeps per-campaign
// counters consistent with them.
//
// Every ingest path pairs the raw event insert with the campaign counter
// update inside one database transaction, so counters can never drift from
// the event log. Counter updates are expressed as increments applied in
// SQL, not as read-modify-write round trips, so concurrent producers
// cannot lose updates. The nightly rollup upserts daily aggregates keyed
// by (tenant, campaign, date) and is safe to re-run for the same day.
package analytics
