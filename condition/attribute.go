package condition

// Attribute is a typed property id providing type-safe conditions.
//
// Usage:
//
//	var Sal = condition.Attribute[float64]("sal")
//	where := condition.And(Sal.GTE(1000), Job.In("CLERK", "ANALYST"))
type Attribute[T any] string

// Name returns the property id.
func (a Attribute[T]) Name() string { return string(a) }

// EQ returns a condition checking the property equals v.
func (a Attribute[T]) EQ(v T) *PropertyCondition { return EQ(string(a), v) }

// NEQ returns a condition checking the property does not equal v.
func (a Attribute[T]) NEQ(v T) *PropertyCondition { return NEQ(string(a), v) }

// In returns a condition checking the property is one of vs.
func (a Attribute[T]) In(vs ...T) *PropertyCondition { return ValuesIn(string(a), anys(vs)...) }

// NotIn returns a condition checking the property is none of vs.
func (a Attribute[T]) NotIn(vs ...T) *PropertyCondition {
	return ValuesNotIn(string(a), anys(vs)...)
}

// GT returns a condition checking the property is greater than v.
func (a Attribute[T]) GT(v T) *PropertyCondition { return GT(string(a), v) }

// GTE returns a condition checking the property is greater than or equal to v.
func (a Attribute[T]) GTE(v T) *PropertyCondition { return GTE(string(a), v) }

// LT returns a condition checking the property is less than v.
func (a Attribute[T]) LT(v T) *PropertyCondition { return LT(string(a), v) }

// LTE returns a condition checking the property is less than or equal to v.
func (a Attribute[T]) LTE(v T) *PropertyCondition { return LTE(string(a), v) }

// Between returns a condition checking the property is within lo and hi.
func (a Attribute[T]) Between(lo, hi T) *PropertyCondition { return Between(string(a), lo, hi) }

// Like returns a condition matching the property with pattern.
func (a Attribute[T]) Like(pattern string) *PropertyCondition { return Matches(string(a), pattern) }

// IsNull returns a condition checking the property is NULL.
func (a Attribute[T]) IsNull() *PropertyCondition { return Null(string(a)) }

// NotNull returns a condition checking the property is not NULL.
func (a Attribute[T]) NotNull() *PropertyCondition { return NotNull(string(a)) }

func anys[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}
