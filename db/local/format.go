package local

import (
	"strings"

	"github.com/syssam/relmap/condition"
	"github.com/syssam/relmap/domain"
	"github.com/syssam/relmap/methodlog"
)

// argumentFormatter formats entities and keys by type and key in the
// method log.
var argumentFormatter = methodlog.ArgumentFormatterFunc(formatArgument)

func formatArgument(arg any) string {
	switch v := arg.(type) {
	case *domain.Entity:
		return v.EntityID() + " {" + v.Key().String() + "}"
	case []*domain.Entity:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = formatArgument(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *domain.Key:
		return v.EntityID() + " {" + v.String() + "}"
	case []*domain.Key:
		parts := make([]string, len(v))
		for i, k := range v {
			parts[i] = formatArgument(k)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *condition.Select:
		return v.String()
	case condition.Condition:
		return v.String()
	default:
		return methodlog.DefaultFormatter.Format(arg)
	}
}
