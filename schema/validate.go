package schema

import "sort"

// Schema is a map of field names to their expected types.
// Example: {"order_id": String(), "attempts": Int(), "tags": Slice(String())}
type Schema map[string]Type

// Validate checks if data conforms to the schema.
// Returns an error with all validation failures found, each qualified with
// the dotted path of the failing field. Keys present in data but absent from
// the schema are violations. An empty or nil schema performs no validation.
//
// Validation never partially succeeds: data is either fully valid (nil
// return) or rejected with every violation reported.
func Validate(schema Schema, data map[string]any) error {
	if len(schema) == 0 {
		// No schema = no validation
		return nil
	}

	var errs []error

	// Validate each field in the schema
	for fieldName, fieldType := range schema {
		value, exists := data[fieldName]
		if !exists {
			if _, optional := fieldType.(*OptionalType); optional {
				continue
			}
			errs = append(errs, &ValidationError{
				Key:    fieldName,
				Reason: "required",
				Value:  nil,
			})
			continue
		}

		// Validate the value against the type
		if err := fieldType.Validate(value); err != nil {
			errs = append(errs, liftFieldErrors(fieldName, value, err)...)
		}
	}

	// Reject keys the schema does not declare
	for key, value := range data {
		if _, known := schema[key]; !known {
			errs = append(errs, &ValidationError{
				Key:    key,
				Reason: "not defined in schema",
				Value:  value,
			})
		}
	}

	// If there are errors, aggregate them
	if len(errs) > 0 {
		sortByKey(errs)
		return &AggregateError{Errors: errs}
	}

	return nil
}

// liftFieldErrors converts a type-validation failure for one field into
// path-qualified ValidationErrors. Nested record failures carry their own
// relative paths; these are re-rooted under fieldName.
func liftFieldErrors(fieldName string, value any, err error) []error {
	nested := ValidationErrors(err)
	if nested == nil {
		return []error{&ValidationError{
			Key:    fieldName,
			Reason: err.Error(),
			Value:  value,
		}}
	}

	lifted := make([]error, 0, len(nested))
	for _, child := range nested {
		ve, ok := child.(*ValidationError)
		if !ok {
			lifted = append(lifted, &ValidationError{
				Key:    fieldName,
				Reason: child.Error(),
				Value:  value,
			})
			continue
		}
		lifted = append(lifted, &ValidationError{
			Key:    fieldName + "." + ve.Key,
			Reason: ve.Reason,
			Value:  ve.Value,
		})
	}
	return lifted
}

// sortByKey orders errors by field path so aggregated messages are stable
// across runs (schema iteration order is not).
func sortByKey(errs []error) {
	sort.SliceStable(errs, func(i, j int) bool {
		a, aOK := errs[i].(*ValidationError)
		b, bOK := errs[j].(*ValidationError)
		if !aOK || !bOK {
			return false
		}
		return a.Key < b.Key
	})
}
