// Package shipping contains the domain model of the shipment synchronization engine:
// queue messages and their targets, shipments mirrored from the carrier platform,
// dead-letter records, rate-limit windows and the contracts of the stores and remote
// platforms the engine talks to.
package shipping
