package solver

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/iti/tsnsched/internal/logging"
)

var (
	// ErrUnsatisfiable reports that no assignment satisfies every constraint of a session
	ErrUnsatisfiable = errors.New("solver: constraints are unsatisfiable")
	// ErrUnbounded reports that the objective can be decreased without limit
	ErrUnbounded = errors.New("solver: objective is unbounded")
	// ErrDuplicateName reports an attempt to declare two unknowns with one name
	ErrDuplicateName = errors.New("solver: duplicate unknown name")
	// ErrUnknownVar reports a handle that the session (or model) does not know
	ErrUnknownVar = errors.New("solver: unknown variable")
)

const (
	defaultTolerance = 1e-10
	defaultDigits    = 9
)

// Session collects real-valued unknowns and linear constraints over them, and on
// request produces a Model assigning every unknown a rational value.
//
// A Session is a single mutable resource: every producer feeding it must run in one
// sequential context. It also owns the model instance counter handed out to the
// cycle models built against it, so identifiers are unique per session rather than
// per process.
type Session struct {
	name string
	log  logging.Logger
	tol  float64
	// decimal digits kept when converting simplex output to rationals
	digits uint

	vars        []Var
	byName      map[string]Var
	constraints []Constraint
	objective   LinExpr

	instanceCounter int
}

// Option customizes a Session at construction
type Option func(*Session)

// WithLogger sets the session's logger
func WithLogger(l logging.Logger) Option {
	return func(s *Session) { s.log = logging.OrNoop(l) }
}

// WithTolerance sets the tolerance passed to the simplex method
func WithTolerance(tol float64) Option {
	return func(s *Session) { s.tol = tol }
}

// WithPrecision sets how many decimal digits of the simplex output survive
// in the rational model
func WithPrecision(digits uint) Option {
	return func(s *Session) { s.digits = digits }
}

// NewSession is a constructor
func NewSession(name string, opts ...Option) *Session {
	s := &Session{
		name:   name,
		log:    logging.Noop(),
		tol:    defaultTolerance,
		digits: defaultDigits,
		byName: make(map[string]Var),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the session's name
func (s *Session) Name() string {
	return s.name
}

// NextModelInstanceID returns a fresh identifier, strictly greater than any
// returned before by this session
func (s *Session) NextModelInstanceID() int {
	s.instanceCounter += 1
	return s.instanceCounter
}

// DeclareRealUnknown creates an unknown with the given name. Names are unique within
// a session; reusing one is an error rather than a silent alias of the earlier unknown.
func (s *Session) DeclareRealUnknown(name string) (Var, error) {
	if len(name) == 0 {
		return Var{}, fmt.Errorf("solver: empty unknown name")
	}
	if _, present := s.byName[name]; present {
		return Var{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	v := Var{id: VarID(len(s.vars) + 1), name: name}
	s.vars = append(s.vars, v)
	s.byName[name] = v
	return v, nil
}

// DeclareRealConstant returns the constant expression holding value, converted exactly
// from its shortest decimal representation
func (s *Session) DeclareRealConstant(value float64) (LinExpr, error) {
	r, err := RatFromFloat(value)
	if err != nil {
		return LinExpr{}, err
	}
	return Const(r), nil
}

// LookupVar finds an unknown by name
func (s *Session) LookupVar(name string) (Var, bool) {
	v, present := s.byName[name]
	return v, present
}

// NumVars is the number of unknowns declared so far
func (s *Session) NumVars() int {
	return len(s.vars)
}

// AddConstraint records c. Every unknown in c must have been declared by this session.
func (s *Session) AddConstraint(c Constraint) error {
	for _, side := range []LinExpr{c.Lhs, c.Rhs} {
		if err := s.checkExpr(side); err != nil {
			return err
		}
	}
	s.constraints = append(s.constraints, c)
	return nil
}

// Constraints returns the constraints recorded so far, in the order they were added
func (s *Session) Constraints() []Constraint {
	return append([]Constraint{}, s.constraints...)
}

// Minimize sets a linear objective; without one Solve returns any satisfying model
func (s *Session) Minimize(obj LinExpr) error {
	if err := s.checkExpr(obj); err != nil {
		return err
	}
	s.objective = obj
	return nil
}

func (s *Session) checkExpr(e LinExpr) error {
	for _, id := range e.Vars() {
		if id < 1 || int(id) > len(s.vars) {
			return fmt.Errorf("%w: v%d not declared in session %s", ErrUnknownVar, id, s.name)
		}
	}
	return nil
}

// Solve searches for an assignment satisfying every constraint. It returns
// ErrUnsatisfiable (possibly wrapped) when none exists; that outcome is a valid answer
// the caller must handle, not a malfunction of the session.
func (s *Session) Solve(ctx context.Context) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := make([]row, 0, len(s.constraints))
	for _, c := range s.constraints {
		rows = append(rows, c.normalize())
	}

	prog, err := buildProgram(rows, s.objective)
	if err != nil {
		s.log.Info(ctx, "session has no model",
			logging.String("session", s.name), logging.Int("constraints", len(s.constraints)), logging.Err(err))
		return nil, fmt.Errorf("session %s: %w", s.name, err)
	}

	values, err := prog.solve(s.tol)
	if err != nil {
		s.log.Info(ctx, "session has no model",
			logging.String("session", s.name), logging.Int("constraints", len(s.constraints)), logging.Err(err))
		return nil, fmt.Errorf("session %s: %w", s.name, err)
	}

	model := &Model{values: make(map[VarID]*big.Rat, len(s.vars)), vars: append([]Var{}, s.vars...)}
	for _, v := range s.vars {
		// unknowns that no constraint mentions are free; pin them to zero
		val, err := roundedRat(values[v.id], s.digits)
		if err != nil {
			s.log.Warn(ctx, "solver returned an unusable value",
				logging.String("session", s.name), logging.String("unknown", v.name), logging.Err(err))
			return nil, fmt.Errorf("session %s: unknown %s: %w", s.name, v.name, err)
		}
		model.values[v.id] = val
	}
	model.objective = model.Eval(s.objective)

	s.log.Debug(ctx, "session solved",
		logging.String("session", s.name),
		logging.Int("unknowns", len(s.vars)),
		logging.Int("lp_unknowns", len(prog.order)),
		logging.Int("constraints", len(s.constraints)))
	return model, nil
}
