// Package schema validates a domain against itself and against the
// database it maps.
//
// ValidateDomain checks the definitions: foreign keys reference defined
// entities with matching key columns, and no two properties of an entity
// map the same column. Validate adds a live check over a connection:
//
//   - every mapped table can be selected from
//   - every mapped column exists (a breaking error when it does not)
//   - type, nullability and length mismatches are reported as warnings
//   - database columns no entity maps are reported as warnings
//
// Results print as a report:
//
//	result, err := schema.Validate(ctx, dom, conn, schema.SkipTables("audit_log"))
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result)
package schema
