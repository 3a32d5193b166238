package solver

import (
	"fmt"
	"math/big"
)

// Model is the outcome of a satisfiable Solve: a rational value for every unknown
// the session had declared when Solve ran. Values are rounded to the session's
// precision digits, so a model may miss its constraints by half a unit in the last digit.
type Model struct {
	values    map[VarID]*big.Rat
	vars      []Var
	objective *big.Rat
}

// Value returns a copy of the value assigned to v
func (m *Model) Value(v Var) (*big.Rat, error) {
	r, present := m.values[v.id]
	if !present || !v.Valid() || m.vars[v.id-1].name != v.name {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVar, v.name)
	}
	return new(big.Rat).Set(r), nil
}

// Float64 returns the float64 nearest to the value assigned to v
func (m *Model) Float64(v Var) (float64, error) {
	r, err := m.Value(v)
	if err != nil {
		return 0, err
	}
	return FloatFromRat(r), nil
}

// Eval computes e under the model; unknowns absent from the model count as 0
func (m *Model) Eval(e LinExpr) *big.Rat {
	total := e.Constant()
	for _, id := range e.Vars() {
		if r, present := m.values[id]; present {
			total.Add(total, new(big.Rat).Mul(e.Coeff(id), r))
		}
	}
	return total
}

// Objective is the value of the session objective (0 without one)
func (m *Model) Objective() *big.Rat {
	return new(big.Rat).Set(m.objective)
}

// Satisfies checks c under the model to within tol
func (m *Model) Satisfies(c Constraint, tol float64) bool {
	diff := FloatFromRat(m.Eval(c.Lhs.Minus(c.Rhs)))
	switch c.Rel {
	case EQ:
		return diff <= tol && diff >= -tol
	case LE:
		return diff <= tol
	default:
		return diff >= -tol
	}
}
