// Package risk computes member retention risk scores. Scoring itself is a
// pure function of a member's behavioral signals, the organization's
// retention settings, and an explicit clock value; the service wraps it with
// persistence, snapshotting, and batched fan-out across an organization.
package risk
