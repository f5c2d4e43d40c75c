// Package integration contains the CRM Integration bounded context.
// This context describes how ERP orders are mirrored into the CRM.
//
// Key concepts:
//   - OrderGateway: Port interface for checking and upserting orders in the CRM by external id
//   - UpsertResult: Value object classifying the CRM response (INSERT, UPDATE, SUCCESS)
//   - StatusError: Error carrying the HTTP status and body of a rejected CRM call
//   - CycleSummary: Per-cycle outcome counters
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
