// Package sync holds the domain model of the ERP synchronization engine:
// the error taxonomy shared by every layer, the sync request/result values,
// local record snapshots, the static field mapping tables, and the ports the
// host application and infrastructure adapters plug into.
package sync
