// Package flows is the catalog of named flows run by the controller.
//
// Every flow reads its inputs from the engine store using the typed keys in
// keys.go. Flows that act on a child entity of a load balancer follow the
// same shape: write any requested changes, push the resulting configuration
// to the load balancer's amphorae, then mark the touched entities ACTIVE.
// The first task of those flows only has a revert, which marks the entity
// ERROR when any later task fails.
//
// Failover flows do not write the load balancer status; the controller owns
// that write.
package flows
