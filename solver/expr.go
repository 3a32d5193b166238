package solver

// expr.go holds the symbolic vocabulary of a solving session: handles on
// real-valued unknowns, linear expressions over them, and the (in)equality
// constraints a session accepts.

import (
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/exp/slices"
)

// VarID identifies a Var within the Session that declared it. Identifiers start at 1,
// so the zero value of a Var never names a declared unknown.
type VarID int

// Var is a handle on a real-valued unknown declared in a Session
type Var struct {
	id   VarID
	name string
}

// ID returns the session-local identifier of the unknown
func (v Var) ID() VarID {
	return v.id
}

// Name returns the name the unknown was declared with
func (v Var) Name() string {
	return v.name
}

// Valid reports whether v was produced by a Session declaration
func (v Var) Valid() bool {
	return v.id > 0
}

// Expr lifts the unknown into a linear expression with coefficient 1
func (v Var) Expr() LinExpr {
	return LinExpr{terms: map[VarID]*big.Rat{v.id: big.NewRat(1, 1)}}
}

func (v Var) String() string {
	return v.name
}

// LinExpr is a linear expression sum_i c_i*x_i + k with exact rational coefficients.
// Values are immutable; every operation returns a fresh expression. The zero value is 0.
type LinExpr struct {
	terms    map[VarID]*big.Rat
	constant *big.Rat
}

// Const returns the constant expression r
func Const(r *big.Rat) LinExpr {
	return LinExpr{constant: new(big.Rat).Set(r)}
}

// Sum adds up a list of expressions
func Sum(exprs ...LinExpr) LinExpr {
	total := LinExpr{}
	for _, e := range exprs {
		total = total.Plus(e)
	}
	return total
}

// Plus returns e + o
func (e LinExpr) Plus(o LinExpr) LinExpr {
	return e.combine(o, big.NewRat(1, 1))
}

// Minus returns e - o
func (e LinExpr) Minus(o LinExpr) LinExpr {
	return e.combine(o, big.NewRat(-1, 1))
}

// Scale returns k*e
func (e LinExpr) Scale(k *big.Rat) LinExpr {
	out := LinExpr{terms: make(map[VarID]*big.Rat, len(e.terms))}
	for id, c := range e.terms {
		prod := new(big.Rat).Mul(c, k)
		if prod.Sign() != 0 {
			out.terms[id] = prod
		}
	}
	out.constant = new(big.Rat).Mul(e.Constant(), k)
	return out
}

// combine returns e + k*o
func (e LinExpr) combine(o LinExpr, k *big.Rat) LinExpr {
	out := LinExpr{terms: make(map[VarID]*big.Rat, len(e.terms)+len(o.terms))}
	for id, c := range e.terms {
		out.terms[id] = new(big.Rat).Set(c)
	}
	for id, c := range o.terms {
		add := new(big.Rat).Mul(c, k)
		if prev, present := out.terms[id]; present {
			add.Add(add, prev)
		}
		if add.Sign() == 0 {
			delete(out.terms, id)
			continue
		}
		out.terms[id] = add
	}
	out.constant = new(big.Rat).Add(e.Constant(), new(big.Rat).Mul(o.Constant(), k))
	return out
}

// Constant returns a copy of the constant term
func (e LinExpr) Constant() *big.Rat {
	if e.constant == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(e.constant)
}

// Coeff returns a copy of the coefficient of the unknown with identifier id (0 if absent)
func (e LinExpr) Coeff(id VarID) *big.Rat {
	c, present := e.terms[id]
	if !present {
		return new(big.Rat)
	}
	return new(big.Rat).Set(c)
}

// Vars lists, in increasing order, the identifiers with non-zero coefficients
func (e LinExpr) Vars() []VarID {
	ids := make([]VarID, 0, len(e.terms))
	for id, c := range e.terms {
		if c.Sign() != 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// IsConstant is true when no unknown appears in the expression
func (e LinExpr) IsConstant() bool {
	return len(e.Vars()) == 0
}

func (e LinExpr) String() string {
	parts := []string{}
	for _, id := range e.Vars() {
		parts = append(parts, fmt.Sprintf("%s*v%d", e.terms[id].RatString(), id))
	}
	if k := e.Constant(); k.Sign() != 0 || len(parts) == 0 {
		parts = append(parts, k.RatString())
	}
	return strings.Join(parts, " + ")
}

// Relation is the comparison a Constraint asserts between its two sides
type Relation int

const (
	EQ Relation = iota
	LE
	GE
)

var relToStr map[Relation]string = map[Relation]string{EQ: "==", LE: "<=", GE: ">="}

func (r Relation) String() string {
	return relToStr[r]
}

// Constraint asserts Lhs Rel Rhs
type Constraint struct {
	Lhs LinExpr
	Rhs LinExpr
	Rel Relation
}

// Eq builds the constraint a == b
func Eq(a, b LinExpr) Constraint {
	return Constraint{Lhs: a, Rhs: b, Rel: EQ}
}

// Le builds the constraint a <= b
func Le(a, b LinExpr) Constraint {
	return Constraint{Lhs: a, Rhs: b, Rel: LE}
}

// Ge builds the constraint a >= b
func Ge(a, b LinExpr) Constraint {
	return Constraint{Lhs: a, Rhs: b, Rel: GE}
}

func (c Constraint) String() string {
	return c.Lhs.String() + " " + c.Rel.String() + " " + c.Rhs.String()
}

// normalize rewrites the constraint as a row sum_i a_i*x_i rel b, with GE turned into LE
func (c Constraint) normalize() row {
	diff := c.Lhs.Minus(c.Rhs)
	r := row{coef: diff.terms, rhs: new(big.Rat).Neg(diff.Constant()), rel: c.Rel}
	if r.coef == nil {
		r.coef = make(map[VarID]*big.Rat)
	}
	if c.Rel == GE {
		r.negate()
		r.rel = LE
	}
	return r
}
