package msl

import (
	"fmt"
	"strconv"
	"strings"
)

// parser builds the AST by recursive descent over the full token stream.
type parser struct {
	toks []token
	pos  int
}

// parse compiles source into a statement list.
func parse(src string) ([]stmt, error) {
	toks, err := lexAll(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	var stmts []stmt
	for !p.at(tokenEOF) {
		if p.at(tokenNewline) {
			p.advance()
			continue
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func lexAll(src string) ([]token, error) {
	l := newLexer(src)
	var toks []token
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
		if t.typ == tokenEOF {
			return toks, nil
		}
	}
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) at(t tokenType) bool {
	return p.toks[p.pos].typ == t
}

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(t tokenType, what string) (token, error) {
	if !p.at(t) {
		return token{}, &SyntaxError{Msg: fmt.Sprintf("expected %s, found %s", what, p.cur()), Line: p.cur().line}
	}
	return p.advance(), nil
}

// Statements.

func (p *parser) parseStmt() (stmt, error) {
	switch p.cur().typ {
	case tokenIf:
		return p.parseIf()
	case tokenFor:
		return p.parseFor()
	case tokenWhile:
		return p.parseWhile()
	case tokenDef:
		return p.parseDef()
	default:
		s, err := p.parseSimpleStmt()
		if err != nil {
			return nil, err
		}
		if err := p.endOfLine(); err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (p *parser) endOfLine() error {
	if p.at(tokenNewline) {
		p.advance()
		return nil
	}
	if p.at(tokenEOF) || p.at(tokenDedent) {
		return nil
	}
	return &SyntaxError{Msg: fmt.Sprintf("unexpected %s", p.cur()), Line: p.cur().line}
}

func (p *parser) parseSimpleStmt() (stmt, error) {
	t := p.cur()
	switch t.typ {
	case tokenReturn:
		p.advance()
		if p.at(tokenNewline) || p.at(tokenEOF) || p.at(tokenDedent) {
			return &returnStmt{line: t.line}, nil
		}
		v, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		return &returnStmt{value: v, line: t.line}, nil
	case tokenBreak:
		p.advance()
		return &breakStmt{line: t.line}, nil
	case tokenContinue:
		p.advance()
		return &continueStmt{line: t.line}, nil
	case tokenPass:
		p.advance()
		return &passStmt{line: t.line}, nil
	case tokenImport:
		p.advance()
		name, err := p.expect(tokenName, "module name")
		if err != nil {
			return nil, err
		}
		p.skipToLineEnd()
		return &importStmt{module: name.lit, line: t.line}, nil
	case tokenFrom:
		p.advance()
		name, err := p.expect(tokenName, "module name")
		if err != nil {
			return nil, err
		}
		p.skipToLineEnd()
		return &importStmt{module: name.lit, line: t.line}, nil
	}

	first, err := p.parseExprList()
	if err != nil {
		return nil, err
	}

	switch p.cur().typ {
	case tokenAssign:
		p.advance()
		value, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		targets, err := assignTargets(first)
		if err != nil {
			return nil, err
		}
		return &assignStmt{targets: targets, value: value, line: t.line}, nil
	case tokenPlusAssign, tokenMinusAssign, tokenStarAssign, tokenSlashAssign:
		opTok := p.advance()
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if !isAssignable(first) {
			return nil, &SyntaxError{Msg: "invalid augmented assignment target", Line: t.line}
		}
		var op tokenType
		switch opTok.typ {
		case tokenPlusAssign:
			op = tokenPlus
		case tokenMinusAssign:
			op = tokenMinus
		case tokenStarAssign:
			op = tokenStar
		case tokenSlashAssign:
			op = tokenSlash
		}
		return &augAssignStmt{target: first, op: op, value: value, line: t.line}, nil
	}

	return &exprStmt{x: first, line: t.line}, nil
}

// skipToLineEnd discards the remainder of an import statement; the
// interpreter rejects it wholesale anyway.
func (p *parser) skipToLineEnd() {
	for !p.at(tokenNewline) && !p.at(tokenEOF) && !p.at(tokenDedent) {
		p.advance()
	}
}

func assignTargets(e expr) ([]expr, error) {
	if tup, ok := e.(*tupleLit); ok {
		for _, el := range tup.elems {
			if !isAssignable(el) {
				return nil, &SyntaxError{Msg: "invalid assignment target", Line: el.pos()}
			}
		}
		return tup.elems, nil
	}
	if !isAssignable(e) {
		return nil, &SyntaxError{Msg: "invalid assignment target", Line: e.pos()}
	}
	return []expr{e}, nil
}

func isAssignable(e expr) bool {
	switch e.(type) {
	case *nameExpr, *indexExpr:
		return true
	default:
		return false
	}
}

func (p *parser) parseIf() (stmt, error) {
	t := p.advance() // if or elif
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	node := &ifStmt{cond: cond, body: body, line: t.line}

	switch p.cur().typ {
	case tokenElif:
		nested, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		node.elseBody = []stmt{nested}
	case tokenElse:
		p.advance()
		elseBody, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		node.elseBody = elseBody
	}
	return node, nil
}

func (p *parser) parseFor() (stmt, error) {
	t := p.advance()
	target, err := p.parseTargetList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenIn, "'in'"); err != nil {
		return nil, err
	}
	iter, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &forStmt{target: target, iter: iter, body: body, line: t.line}, nil
}

// parseTargetList parses a loop target: a name or comma-joined names.
func (p *parser) parseTargetList() (expr, error) {
	first, err := p.expect(tokenName, "loop variable")
	if err != nil {
		return nil, err
	}
	target := expr(&nameExpr{name: first.lit, line: first.line})
	if !p.at(tokenComma) {
		return target, nil
	}
	elems := []expr{target}
	for p.at(tokenComma) {
		p.advance()
		n, err := p.expect(tokenName, "loop variable")
		if err != nil {
			return nil, err
		}
		elems = append(elems, &nameExpr{name: n.lit, line: n.line})
	}
	return &tupleLit{elems: elems, line: first.line}, nil
}

func (p *parser) parseWhile() (stmt, error) {
	t := p.advance()
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &whileStmt{cond: cond, body: body, line: t.line}, nil
}

func (p *parser) parseDef() (stmt, error) {
	t := p.advance()
	name, err := p.expect(tokenName, "function name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenLParen, "'('"); err != nil {
		return nil, err
	}
	var params []string
	for !p.at(tokenRParen) {
		param, err := p.expect(tokenName, "parameter name")
		if err != nil {
			return nil, err
		}
		params = append(params, param.lit)
		if p.at(tokenComma) {
			p.advance()
		}
	}
	p.advance() // )
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &defStmt{name: name.lit, params: params, body: body, line: t.line}, nil
}

// parseBlock parses ":" followed by either an indented statement block or a
// single inline simple statement.
func (p *parser) parseBlock() ([]stmt, error) {
	if _, err := p.expect(tokenColon, "':'"); err != nil {
		return nil, err
	}

	if !p.at(tokenNewline) {
		s, err := p.parseSimpleStmt()
		if err != nil {
			return nil, err
		}
		if err := p.endOfLine(); err != nil {
			return nil, err
		}
		return []stmt{s}, nil
	}
	p.advance() // newline

	if _, err := p.expect(tokenIndent, "indented block"); err != nil {
		return nil, err
	}
	var body []stmt
	for !p.at(tokenDedent) && !p.at(tokenEOF) {
		if p.at(tokenNewline) {
			p.advance()
			continue
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		body = append(body, s)
	}
	if p.at(tokenDedent) {
		p.advance()
	}
	if len(body) == 0 {
		return nil, &SyntaxError{Msg: "empty block", Line: p.cur().line}
	}
	return body, nil
}

// Expressions.

// parseExprList parses comma-separated expressions into a tuple when more
// than one is present.
func (p *parser) parseExprList() (expr, error) {
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.at(tokenComma) {
		return first, nil
	}
	elems := []expr{first}
	for p.at(tokenComma) {
		p.advance()
		if p.at(tokenNewline) || p.at(tokenEOF) || p.at(tokenAssign) {
			break
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	return &tupleLit{elems: elems, line: first.pos()}, nil
}

func (p *parser) parseExpr() (expr, error) {
	return p.parseTernary()
}

func (p *parser) parseTernary() (expr, error) {
	then, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.at(tokenIf) {
		return then, nil
	}
	line := p.advance().line
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenElse, "'else'"); err != nil {
		return nil, err
	}
	els, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return &condExpr{cond: cond, then: then, els: els, line: line}, nil
}

func (p *parser) parseOr() (expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if !p.at(tokenOr) {
		return first, nil
	}
	values := []expr{first}
	for p.at(tokenOr) {
		p.advance()
		v, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return &boolOpExpr{op: tokenOr, values: values, line: first.pos()}, nil
}

func (p *parser) parseAnd() (expr, error) {
	first, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	if !p.at(tokenAnd) {
		return first, nil
	}
	values := []expr{first}
	for p.at(tokenAnd) {
		p.advance()
		v, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return &boolOpExpr{op: tokenAnd, values: values, line: first.pos()}, nil
}

func (p *parser) parseNot() (expr, error) {
	if p.at(tokenNot) {
		t := p.advance()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: tokenNot, x: x, line: t.line}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (expr, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}

	var ops []tokenType
	var rest []expr
	for {
		var op tokenType
		switch p.cur().typ {
		case tokenEq, tokenNe, tokenLt, tokenLe, tokenGt, tokenGe, tokenIn:
			op = p.advance().typ
		case tokenNot:
			// "not in"
			if p.pos+1 < len(p.toks) && p.toks[p.pos+1].typ == tokenIn {
				p.advance()
				p.advance()
				op = tokenNotIn
			} else {
				return nil, &SyntaxError{Msg: "unexpected 'not'", Line: p.cur().line}
			}
		default:
			if len(ops) == 0 {
				return left, nil
			}
			return &compareExpr{left: left, ops: ops, rest: rest, line: left.pos()}, nil
		}
		right, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		rest = append(rest, right)
	}
}

func (p *parser) parseAdd() (expr, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.at(tokenPlus) || p.at(tokenMinus) {
		op := p.advance()
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op.typ, l: left, r: right, line: op.line}
	}
	return left, nil
}

func (p *parser) parseMul() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.at(tokenStar) || p.at(tokenSlash) || p.at(tokenSlashSlash) || p.at(tokenPercent) {
		op := p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op.typ, l: left, r: right, line: op.line}
	}
	return left, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.at(tokenMinus) {
		t := p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: tokenMinus, x: x, line: t.line}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().typ {
		case tokenLParen:
			line := p.advance().line
			var args []expr
			for !p.at(tokenRParen) {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.at(tokenComma) {
					p.advance()
				}
			}
			p.advance() // )
			x = &callExpr{fn: x, args: args, line: line}
		case tokenLBracket:
			line := p.advance().line
			var lo, hi expr
			if !p.at(tokenColon) {
				lo, err = p.parseExpr()
				if err != nil {
					return nil, err
				}
			}
			if p.at(tokenColon) {
				p.advance()
				if !p.at(tokenRBracket) {
					hi, err = p.parseExpr()
					if err != nil {
						return nil, err
					}
				}
				if _, err := p.expect(tokenRBracket, "']'"); err != nil {
					return nil, err
				}
				x = &sliceExpr{x: x, lo: lo, hi: hi, line: line}
			} else {
				if _, err := p.expect(tokenRBracket, "']'"); err != nil {
					return nil, err
				}
				x = &indexExpr{x: x, index: lo, line: line}
			}
		case tokenDot:
			p.advance()
			name, err := p.expect(tokenName, "attribute name")
			if err != nil {
				return nil, err
			}
			x = &attrExpr{x: x, name: name.lit, line: name.line}
		default:
			return x, nil
		}
	}
}

func (p *parser) parsePrimary() (expr, error) {
	t := p.cur()
	switch t.typ {
	case tokenName:
		p.advance()
		return &nameExpr{name: t.lit, line: t.line}, nil
	case tokenInt:
		p.advance()
		n, err := strconv.ParseInt(t.lit, 10, 64)
		if err != nil {
			return nil, &SyntaxError{Msg: fmt.Sprintf("invalid integer %q", t.lit), Line: t.line}
		}
		return &intLit{value: n, line: t.line}, nil
	case tokenFloat:
		p.advance()
		f, err := strconv.ParseFloat(t.lit, 64)
		if err != nil {
			return nil, &SyntaxError{Msg: fmt.Sprintf("invalid number %q", t.lit), Line: t.line}
		}
		return &floatLit{value: f, line: t.line}, nil
	case tokenStr:
		p.advance()
		lit := t.lit
		// Adjacent string literals concatenate.
		for p.at(tokenStr) {
			lit += p.advance().lit
		}
		return &strLit{value: lit, line: t.line}, nil
	case tokenFStr:
		p.advance()
		return parseFString(t.lit, t.line)
	case tokenTrue:
		p.advance()
		return &boolLit{value: true, line: t.line}, nil
	case tokenFalse:
		p.advance()
		return &boolLit{value: false, line: t.line}, nil
	case tokenNone:
		p.advance()
		return &noneLit{line: t.line}, nil
	case tokenLParen:
		p.advance()
		inner, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokenLBracket:
		return p.parseListOrComp()
	case tokenLBrace:
		return p.parseDict()
	}
	return nil, &SyntaxError{Msg: fmt.Sprintf("unexpected %s", t), Line: t.line}
}

func (p *parser) parseListOrComp() (expr, error) {
	open := p.advance() // [
	if p.at(tokenRBracket) {
		p.advance()
		return &listLit{line: open.line}, nil
	}

	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if p.at(tokenFor) {
		p.advance()
		target, err := p.parseTargetList()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenIn, "'in'"); err != nil {
			return nil, err
		}
		// The iterable and filter stop below the ternary rule so the
		// comprehension's own 'if' is not swallowed as a conditional
		// expression.
		iter, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		var cond expr
		if p.at(tokenIf) {
			p.advance()
			cond, err = p.parseOr()
			if err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(tokenRBracket, "']'"); err != nil {
			return nil, err
		}
		return &compExpr{elt: first, target: target, iter: iter, cond: cond, line: open.line}, nil
	}

	elems := []expr{first}
	for p.at(tokenComma) {
		p.advance()
		if p.at(tokenRBracket) {
			break
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	if _, err := p.expect(tokenRBracket, "']'"); err != nil {
		return nil, err
	}
	return &listLit{elems: elems, line: open.line}, nil
}

func (p *parser) parseDict() (expr, error) {
	open := p.advance() // {
	node := &dictLit{line: open.line}
	for !p.at(tokenRBrace) {
		k, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenColon, "':'"); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		node.keys = append(node.keys, k)
		node.values = append(node.values, v)
		if p.at(tokenComma) {
			p.advance()
		}
	}
	p.advance() // }
	return node, nil
}

// parseFString splits raw f-string content into literal and interpolated
// parts. Format specs after ':' are accepted and ignored.
func parseFString(raw string, line int) (expr, error) {
	node := &fstringLit{line: line}
	var lit strings.Builder

	flushLit := func() error {
		if lit.Len() == 0 {
			return nil
		}
		s, err := unescape(lit.String(), line)
		if err != nil {
			return err
		}
		node.parts = append(node.parts, &strLit{value: s, line: line})
		lit.Reset()
		return nil
	}

	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		switch {
		case ch == '{' && i+1 < len(raw) && raw[i+1] == '{':
			lit.WriteByte('{')
			i++
		case ch == '}' && i+1 < len(raw) && raw[i+1] == '}':
			lit.WriteByte('}')
			i++
		case ch == '{':
			end, err := findBraceEnd(raw, i+1, line)
			if err != nil {
				return nil, err
			}
			frag := raw[i+1 : end]
			// Strip a format spec or conversion marker.
			if cut := topLevelIndex(frag, ':'); cut >= 0 {
				frag = frag[:cut]
			}
			if cut := topLevelIndex(frag, '!'); cut >= 0 {
				frag = frag[:cut]
			}
			if err := flushLit(); err != nil {
				return nil, err
			}
			part, err := parseExprString(frag, line)
			if err != nil {
				return nil, err
			}
			node.parts = append(node.parts, part)
			i = end
		case ch == '}':
			return nil, &SyntaxError{Msg: "single '}' in f-string", Line: line}
		default:
			lit.WriteByte(ch)
		}
	}
	if err := flushLit(); err != nil {
		return nil, err
	}
	return node, nil
}

func findBraceEnd(s string, start, line int) (int, error) {
	depth := 0
	inStr := byte(0)
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr != 0 {
			if ch == '\\' {
				i++
			} else if ch == inStr {
				inStr = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			inStr = ch
		case '{', '[', '(':
			depth++
		case ']', ')':
			depth--
		case '}':
			if depth == 0 {
				return i, nil
			}
			depth--
		}
	}
	return 0, &SyntaxError{Msg: "unterminated expression in f-string", Line: line}
}

// topLevelIndex finds ch outside any nesting or string quoting.
func topLevelIndex(s string, ch byte) int {
	depth := 0
	inStr := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr != 0 {
			if c == '\\' {
				i++
			} else if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			inStr = c
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			depth--
		default:
			if c == ch && depth == 0 {
				if ch == '!' && i+1 < len(s) && s[i+1] == '=' {
					continue
				}
				return i
			}
		}
	}
	return -1
}

// parseExprString parses a standalone expression fragment (used for
// f-string interpolations).
func parseExprString(src string, line int) (expr, error) {
	toks, err := lexAll(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.at(tokenEOF) && !p.at(tokenNewline) {
		return nil, &SyntaxError{Msg: fmt.Sprintf("unexpected %s in f-string expression", p.cur()), Line: line}
	}
	return e, nil
}
