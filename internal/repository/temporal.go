package repository

import (
	"fmt"

	"github.com/rpattn/datastore/internal/domain"
)

// asOfClause renders the validity predicate for the table aliased as alias,
// appending any bound parameters to args.
//
//	live:  remove_date IS NULL
//	at T:  create_date <= T AND (remove_date IS NULL OR T < remove_date)
//	ever:  TRUE
func asOfClause(alias string, asOf domain.AsOf, args *[]any) string {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	switch {
	case asOf.Ever:
		return "TRUE"
	case asOf.At == nil:
		return prefix + "remove_date IS NULL"
	default:
		*args = append(*args, *asOf.At)
		n := len(*args)
		return fmt.Sprintf("(%screate_date <= $%d AND (%sremove_date IS NULL OR $%d < %sremove_date))",
			prefix, n, prefix, n, prefix)
	}
}
