// Package offline contains the offline-first intake synchronization core:
// durable local capture of repair jobs while disconnected, offline staff
// identity verification, and exactly-once reconciliation with the server
// once connectivity returns.
package offline
