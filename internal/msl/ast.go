package msl

// The AST is intentionally small: only the statements and expressions the
// sandbox allows exist as node types, so anything outside the surface fails
// at parse time rather than slipping through to evaluation.

type stmt interface{ stmtNode() }

type expr interface {
	exprNode()
	pos() int
}

// Statements.

type assignStmt struct {
	targets []expr // name, index, or tuple targets
	value   expr
	line    int
}

type augAssignStmt struct {
	target expr
	op     tokenType // +, -, *, /
	value  expr
	line   int
}

type exprStmt struct {
	x    expr
	line int
}

type ifStmt struct {
	cond     expr
	body     []stmt
	elseBody []stmt // may hold a single nested ifStmt for elif chains
	line     int
}

type forStmt struct {
	target expr // name or tuple of names
	iter   expr
	body   []stmt
	line   int
}

type whileStmt struct {
	cond expr
	body []stmt
	line int
}

type defStmt struct {
	name   string
	params []string
	body   []stmt
	line   int
}

type returnStmt struct {
	value expr // nil for bare return
	line  int
}

type breakStmt struct{ line int }
type continueStmt struct{ line int }
type passStmt struct{ line int }

// importStmt is parsed so the interpreter can reject it with the module
// name, as the sandbox contract requires.
type importStmt struct {
	module string
	line   int
}

func (*assignStmt) stmtNode()    {}
func (*augAssignStmt) stmtNode() {}
func (*exprStmt) stmtNode()      {}
func (*ifStmt) stmtNode()        {}
func (*forStmt) stmtNode()       {}
func (*whileStmt) stmtNode()     {}
func (*defStmt) stmtNode()       {}
func (*returnStmt) stmtNode()    {}
func (*breakStmt) stmtNode()     {}
func (*continueStmt) stmtNode()  {}
func (*passStmt) stmtNode()      {}
func (*importStmt) stmtNode()    {}

// Expressions.

type nameExpr struct {
	name string
	line int
}

type intLit struct {
	value int64
	line  int
}

type floatLit struct {
	value float64
	line  int
}

type strLit struct {
	value string
	line  int
}

type boolLit struct {
	value bool
	line  int
}

type noneLit struct{ line int }

type listLit struct {
	elems []expr
	line  int
}

type dictLit struct {
	keys   []expr
	values []expr
	line   int
}

type tupleLit struct {
	elems []expr
	line  int
}

// fstringLit concatenates its parts; parts are strLit or arbitrary
// expressions stringified at evaluation.
type fstringLit struct {
	parts []expr
	line  int
}

type binaryExpr struct {
	op   tokenType
	l, r expr
	line int
}

// boolOpExpr is a short-circuit and/or chain.
type boolOpExpr struct {
	op     tokenType // tokenAnd or tokenOr
	values []expr
	line   int
}

type unaryExpr struct {
	op   tokenType // tokenMinus or tokenNot
	x    expr
	line int
}

// compareExpr supports chained comparisons (a < b <= c).
type compareExpr struct {
	left  expr
	ops   []tokenType
	rest  []expr
	line  int
}

type condExpr struct {
	cond, then, els expr
	line            int
}

type callExpr struct {
	fn   expr
	args []expr
	line int
}

type indexExpr struct {
	x     expr
	index expr
	line  int
}

type sliceExpr struct {
	x      expr
	lo, hi expr // either may be nil
	line   int
}

type attrExpr struct {
	x    expr
	name string
	line int
}

// compExpr is a list comprehension with a single for clause and an
// optional filter.
type compExpr struct {
	elt    expr
	target expr
	iter   expr
	cond   expr // may be nil
	line   int
}

func (*nameExpr) exprNode()    {}
func (*intLit) exprNode()      {}
func (*floatLit) exprNode()    {}
func (*strLit) exprNode()      {}
func (*boolLit) exprNode()     {}
func (*noneLit) exprNode()     {}
func (*listLit) exprNode()     {}
func (*dictLit) exprNode()     {}
func (*tupleLit) exprNode()    {}
func (*fstringLit) exprNode()  {}
func (*binaryExpr) exprNode()  {}
func (*boolOpExpr) exprNode()  {}
func (*unaryExpr) exprNode()   {}
func (*compareExpr) exprNode() {}
func (*condExpr) exprNode()    {}
func (*callExpr) exprNode()    {}
func (*indexExpr) exprNode()   {}
func (*sliceExpr) exprNode()   {}
func (*attrExpr) exprNode()    {}
func (*compExpr) exprNode()    {}

func (e *nameExpr) pos() int    { return e.line }
func (e *intLit) pos() int      { return e.line }
func (e *floatLit) pos() int    { return e.line }
func (e *strLit) pos() int      { return e.line }
func (e *boolLit) pos() int     { return e.line }
func (e *noneLit) pos() int     { return e.line }
func (e *listLit) pos() int     { return e.line }
func (e *dictLit) pos() int     { return e.line }
func (e *tupleLit) pos() int    { return e.line }
func (e *fstringLit) pos() int  { return e.line }
func (e *binaryExpr) pos() int  { return e.line }
func (e *boolOpExpr) pos() int  { return e.line }
func (e *unaryExpr) pos() int   { return e.line }
func (e *compareExpr) pos() int { return e.line }
func (e *condExpr) pos() int    { return e.line }
func (e *callExpr) pos() int    { return e.line }
func (e *indexExpr) pos() int   { return e.line }
func (e *sliceExpr) pos() int   { return e.line }
func (e *attrExpr) pos() int    { return e.line }
func (e *compExpr) pos() int    { return e.line }
