// Package link decorates device collaborators with the policies of a
// shared radio link.
//
// Decorators compose in any order; the CLI wraps each driver as
//
//	Serialize(Limit(Breaker(driver)))
//
// Serialize keeps two sessions from talking to the same address at once,
// Limit paces probes across the whole process, and Breaker fails fast
// while the adapter itself is broken.
package link
