// Package operator defines the closed expression grammar of the
// pipeline DSL: the literal-or-operator union and every `$`-named
// node, with decoding from JSON and YAML documents.
//
// The grammar is a sealed variant set. Evaluation dispatches with an
// exhaustive type switch, so adding an operator is a one-place change
// in this package plus one case in the executor.
package operator

// Expr is one node of an operator expression: either a Literal or a
// `$`-named operator whose sub-expressions are themselves Exprs.
type Expr interface {
	isExpr()
}

// Literal evaluates to its value with no context lookup. Arrays and
// objects inside a literal are opaque JSON, never re-evaluated as
// expressions.
type Literal struct {
	Value any
}

// Get resolves a dot path against the context and fails with
// PathNotFound when the path is absent.
type Get struct {
	Path string
}

// JSONPathQuery runs an RFC 9535 JSONPath query over the whole
// context object and yields the array of all matches.
type JSONPathQuery struct {
	Path string
}

// If evaluates Then or Else depending on the truthiness of Cond.
// Else may be nil, in which case the false branch yields null.
type If struct {
	Cond Expr
	Then Expr
	Else Expr
}

// SwitchCase is one (match value, branch) pair of a Switch.
type SwitchCase struct {
	When any
	Then Expr
}

// Switch evaluates On, scans Cases in order, and takes the first
// branch whose When deep-equals the result. Default may be nil.
type Switch struct {
	On      Expr
	Cases   []SwitchCase
	Default Expr
}

// Map transforms each element of Items, binding it under As in a
// child scope while Body evaluates.
type Map struct {
	Items Expr
	As    string
	Body  Expr
}

// Filter keeps the elements of Items for which Predicate is truthy.
type Filter struct {
	Items     Expr
	As        string
	Predicate Expr
}

// Reduce folds Items left to right, binding the element under As and
// the running accumulator under Acc, seeded with Initial.
type Reduce struct {
	Items   Expr
	As      string
	Acc     string
	Initial Expr
	Body    Expr
}

// CompareKind selects one of the six comparison operators.
type CompareKind string

const (
	CompareEq  CompareKind = "$eq"
	CompareNe  CompareKind = "$ne"
	CompareGt  CompareKind = "$gt"
	CompareGte CompareKind = "$gte"
	CompareLt  CompareKind = "$lt"
	CompareLte CompareKind = "$lte"
)

// Compare applies a comparison operator to two operands.
type Compare struct {
	Op    CompareKind
	Left  Expr
	Right Expr
}

// LogicKind selects $and or $or.
type LogicKind string

const (
	LogicAnd LogicKind = "$and"
	LogicOr  LogicKind = "$or"
)

// Logic evaluates operands left to right with short-circuiting.
type Logic struct {
	Op       LogicKind
	Operands []Expr
}

// Not returns the negated truthiness of its operand as a boolean.
type Not struct {
	Operand Expr
}

// MathKind selects one of the four arithmetic operators.
type MathKind string

const (
	MathAdd      MathKind = "$add"
	MathSubtract MathKind = "$subtract"
	MathMultiply MathKind = "$multiply"
	MathDivide   MathKind = "$divide"
)

// Math applies an arithmetic operator. Add and Multiply fold two or
// more operands; Subtract and Divide take exactly two.
type Math struct {
	Op       MathKind
	Operands []Expr
}

// Merge shallow-merges object operands left to right, later keys
// overwriting earlier ones.
type Merge struct {
	Objects []Expr
}

// Exists reports whether its operand resolves to a non-null value,
// downgrading PathNotFound to false.
type Exists struct {
	Value Expr
}

// Now yields the current instant from the injected clock.
type Now struct{}

// RenderString substitutes {{name}} placeholders in Template using
// Vars. A nil Vars resolves placeholders against the current context.
type RenderString struct {
	Template Expr
	Vars     Expr
}

// Return evaluates its value and signals pipeline-level early exit.
type Return struct {
	Value Expr
}

// Validate checks its value against a JSON-Schema-shaped document and
// raises ValidationFailed on violation.
type Validate struct {
	Value  Expr
	Schema any
}

// SortField is one sort key of a database query.
type SortField struct {
	Field string
	Desc  bool
}

// DBQuery reads matching documents from a collection. Filter values
// are sub-expressions; Limit and Skip are zero when unset.
type DBQuery struct {
	Collection string
	Filter     map[string]Expr
	Select     []string
	Limit      int
	Skip       int
	Sort       []SortField
}

// DBInsert stores one document and yields it with its generated id.
type DBInsert struct {
	Collection string
	Document   map[string]Expr
}

// DBUpdate patches matching documents and yields the affected count.
type DBUpdate struct {
	Collection string
	Filter     map[string]Expr
	Update     map[string]Expr
}

// DBDelete removes matching documents and yields the affected count.
type DBDelete struct {
	Collection string
	Filter     map[string]Expr
}

func (Literal) isExpr()       {}
func (Get) isExpr()           {}
func (JSONPathQuery) isExpr() {}
func (If) isExpr()            {}
func (Switch) isExpr()        {}
func (Map) isExpr()           {}
func (Filter) isExpr()        {}
func (Reduce) isExpr()        {}
func (Compare) isExpr()       {}
func (Logic) isExpr()         {}
func (Not) isExpr()           {}
func (Math) isExpr()          {}
func (Merge) isExpr()         {}
func (Exists) isExpr()        {}
func (Now) isExpr()           {}
func (RenderString) isExpr()  {}
func (Return) isExpr()        {}
func (Validate) isExpr()      {}
func (DBQuery) isExpr()       {}
func (DBInsert) isExpr()      {}
func (DBUpdate) isExpr()      {}
func (DBDelete) isExpr()      {}
