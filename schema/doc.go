// Package schema provides the typed validation and merge primitives that
// guard every state value crossing a machine boundary.
//
// A Schema maps field names to types. Built-in types cover strings, ints,
// floats, bools, typed slices, nested records, and optional fields; Custom
// registers domain-specific validators. Validation is all-or-nothing: a
// value either satisfies the schema completely or is rejected with every
// violation reported, each qualified by its dotted field path.
//
//	shape := schema.Schema{
//	    "order_id": schema.String(),
//	    "attempts": schema.Int(),
//	    "customer": schema.Object(schema.Schema{
//	        "name":  schema.String(),
//	        "email": schema.Optional(schema.String()),
//	    }),
//	}
//
//	err := schema.Validate(shape, state)
//
// Merge applies partial updates: nested records merge key by key, while
// scalars and lists replace wholesale. Decode converts validated input into
// caller-defined structs for handlers that prefer typed access.
//
// Schemas serialize to JSON as maps of field names to type names (nested
// records as nested maps), which is the form executors receive when tools
// are described to them.
package schema
