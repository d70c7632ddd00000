// Package zones resolves the availability zones a project may place load
// balancers in.
//
// The restriction is stored on the project in the identity service as a
// comma separated compute_zones attribute. Lookups go through a process-wide
// TTL cache keyed per project, so repeated lookups for the same project hit
// the identity service at most once per TTL.
//
// A nil result means the project is not restricted: the attribute is absent,
// empty, or set to ALL.
package zones
