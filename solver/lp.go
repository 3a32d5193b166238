package solver

// lp.go turns the constraints collected by a Session into a standard-form linear
// program (minimize c'x subject to Ax = b, x >= 0) and hands it to gonum's Simplex.
//
// The conversion happens in three passes:
//   - constant rows (no unknowns left) are checked exactly and dropped
//   - equality rows are reduced with exact rational elimination, so that
//     redundant equalities vanish and contradictory ones are reported as unsatisfiable
//   - every free unknown x is split as x = xp - xn, and every inequality row
//     receives its own slack column

import (
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// row is a normalized constraint sum_i coef[i]*x_i rel rhs, with rel either EQ or LE
type row struct {
	coef map[VarID]*big.Rat
	rhs  *big.Rat
	rel  Relation
}

func (r *row) negate() {
	for id, c := range r.coef {
		r.coef[id] = new(big.Rat).Neg(c)
	}
	r.rhs = new(big.Rat).Neg(r.rhs)
}

func (r *row) pruneZeros() {
	for id, c := range r.coef {
		if c.Sign() == 0 {
			delete(r.coef, id)
		}
	}
}

// holds reports whether a constant row (no unknowns) is satisfied
func (r *row) holds() bool {
	switch r.rel {
	case EQ:
		return r.rhs.Sign() == 0
	default:
		return r.rhs.Sign() >= 0
	}
}

// pivot returns the smallest identifier with a non-zero coefficient
func (r *row) pivot() VarID {
	best := VarID(0)
	for id := range r.coef {
		if best == 0 || id < best {
			best = id
		}
	}
	return best
}

// echelon is a set of linearly independent equality rows, each with a pivot unknown
// that no later row in the set contains
type echelon struct {
	pivots []VarID
	rows   []row
}

// reduce subtracts multiples of the echelon rows from r, eliminating every pivot.
func (ech *echelon) reduce(r row) row {
	out := row{coef: make(map[VarID]*big.Rat, len(r.coef)), rhs: new(big.Rat).Set(r.rhs), rel: r.rel}
	for id, c := range r.coef {
		out.coef[id] = new(big.Rat).Set(c)
	}
	for idx, p := range ech.pivots {
		c, present := out.coef[p]
		if !present || c.Sign() == 0 {
			continue
		}
		base := ech.rows[idx]
		factor := new(big.Rat).Quo(c, base.coef[p])
		for id, bc := range base.coef {
			sub := new(big.Rat).Mul(bc, factor)
			cur, ok := out.coef[id]
			if !ok {
				cur = new(big.Rat)
			}
			out.coef[id] = cur.Sub(cur, sub)
		}
		out.rhs.Sub(out.rhs, new(big.Rat).Mul(base.rhs, factor))
		out.pruneZeros()
	}
	return out
}

// add inserts an equality row, reporting whether it was independent of the rows
// already present. A dependent row whose right-hand side does not reduce to zero
// makes the system inconsistent.
func (ech *echelon) add(r row) (bool, error) {
	red := ech.reduce(r)
	if len(red.coef) == 0 {
		if red.rhs.Sign() != 0 {
			return false, ErrUnsatisfiable
		}
		return false, nil
	}
	ech.pivots = append(ech.pivots, red.pivot())
	ech.rows = append(ech.rows, red)
	return true, nil
}

// program is the standard-form linear program built from a set of rows
type program struct {
	cols   map[VarID]int // unknown -> index of its xp column; xn sits right after
	order  []VarID
	c      []float64
	a      *mat.Dense
	b      []float64
	nSlack int
}

// buildProgram converts rows and an objective into standard form. Unknowns that
// appear in no row are left out of the program.
func buildProgram(rows []row, objective LinExpr) (*program, error) {
	ech := new(echelon)
	ineq := []row{}

	for _, r := range rows {
		r.pruneZeros()
		if len(r.coef) == 0 {
			if !r.holds() {
				return nil, ErrUnsatisfiable
			}
			continue
		}
		if r.rel == EQ {
			if _, err := ech.add(r); err != nil {
				return nil, err
			}
			continue
		}
		ineq = append(ineq, r)
	}

	prog := &program{cols: make(map[VarID]int)}
	all := append(append([]row{}, ech.rows...), ineq...)
	for _, r := range all {
		for _, id := range sortedIDs(r.coef) {
			if _, present := prog.cols[id]; !present {
				prog.cols[id] = 2 * len(prog.order)
				prog.order = append(prog.order, id)
			}
		}
	}

	// an objective term on an unknown no row constrains has no finite optimum
	for _, id := range objective.Vars() {
		if _, present := prog.cols[id]; !present {
			return nil, fmt.Errorf("%w: objective unknown v%d is unconstrained", ErrUnbounded, id)
		}
	}

	if len(all) == 0 {
		return prog, nil
	}

	prog.nSlack = len(ineq)
	m := len(all)
	n := 2*len(prog.order) + prog.nSlack
	prog.a = mat.NewDense(m, n, nil)
	prog.b = make([]float64, m)
	prog.c = make([]float64, n)

	for i, r := range all {
		sign := 1.0
		if r.rhs.Sign() < 0 {
			sign = -1.0
		}
		for id, coef := range r.coef {
			col := prog.cols[id]
			v := sign * FloatFromRat(coef)
			prog.a.Set(i, col, v)
			prog.a.Set(i, col+1, -v)
		}
		if r.rel == LE {
			slack := 2*len(prog.order) + (i - len(ech.rows))
			prog.a.Set(i, slack, sign)
		}
		prog.b[i] = sign * FloatFromRat(r.rhs)
	}

	for _, id := range objective.Vars() {
		col := prog.cols[id]
		v := FloatFromRat(objective.Coeff(id))
		prog.c[col] = v
		prog.c[col+1] = -v
	}
	return prog, nil
}

// solve runs the simplex method and returns the value of every unknown in the program
func (prog *program) solve(tol float64) (map[VarID]float64, error) {
	values := make(map[VarID]float64, len(prog.order))
	if prog.a == nil {
		return values, nil
	}

	_, x, err := lp.Simplex(prog.c, prog.a, prog.b, tol, nil)
	if err != nil {
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return nil, ErrUnsatisfiable
		case errors.Is(err, lp.ErrUnbounded):
			return nil, ErrUnbounded
		default:
			return nil, fmt.Errorf("solver: simplex: %w", err)
		}
	}

	for _, id := range prog.order {
		col := prog.cols[id]
		values[id] = x[col] - x[col+1]
	}
	return values, nil
}

func sortedIDs(coef map[VarID]*big.Rat) []VarID {
	ids := make([]VarID, 0, len(coef))
	for id := range coef {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
