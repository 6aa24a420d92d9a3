// Package isolation implements per-module class resolution.
//
// A Boundary owns the classes defined for one module. Every lookup is
// checked against a shared, immutable Policy in this order:
//
//	forbidden  -> the lookup fails, whatever the sources contain
//	restricted -> the host Resolver supplies the class; sources are never read
//	otherwise  -> sources are searched in registration order, first match wins
//
// Matched bytes are handed to the Definer registered for the entry's
// extension, which compiles them into the boundary's private runtime.
// Results are cached, so a boundary returns the same *Class for a name every
// time it is asked.
//
// Namespaces are dotted prefixes: "acme" matches "acme" and "acme.util.Log"
// but not "acmecorp.Log". CoreNamespaces are always restricted.
package isolation
