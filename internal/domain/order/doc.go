// Package order contains the Order ("Pedido") bounded context of the sync agent.
//
// Key concepts:
//   - RawRecord: one row of the ERP order query, accessed through typed extractors
//     that never fail loudly (a bad field becomes an absent value)
//   - NormalizedOrder: the validated, CRM-shaped representation of a RawRecord
//   - LookupReference: a weak reference to another CRM entity by external id
//   - Status: the CRM order status derived from ERP document flags
//
// Everything in this package is pure; transport and serialization to the CRM
// wire format live in the infrastructure layer.
package order
