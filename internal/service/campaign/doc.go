// Package campaign implements campaign lifecycle management.
//
// The service layer owns the lifecycle state machine, its transition
// guards, and retry-eligibility policy. All campaign status mutation in the
// engine flows through this package; the repository applies each transition
// atomically (status plus the related timestamp in one statement).
//
// Repository implementations live in repository/postgres/.
package campaign
