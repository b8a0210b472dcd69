// Package pricedb holds the records, outcomes and interfaces shared by the
// pricing database pipeline.
//
// A run lists regions, then for every region pulls the VM SKU capability
// catalog and the retail price list, joins them on SKU name and appends the
// merged rows to one Database. Region tasks never share mutable state; the
// only aggregation point is the dispatcher's collector goroutine.
package pricedb
