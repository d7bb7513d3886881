package msl

import (
	"fmt"
	"strings"
)

// lexer turns program source into tokens, tracking indentation the way
// Python-style block structure requires. Newlines inside brackets are
// joined implicitly.
type lexer struct {
	src     string
	pos     int
	line    int
	indents []int
	pending []token // queued INDENT/DEDENT tokens
	depth   int     // bracket nesting; >0 suppresses layout
	atBOL   bool
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, indents: []int{0}, atBOL: true}
}

// next returns the next token or a syntax error.
func (l *lexer) next() (token, error) {
	if len(l.pending) > 0 {
		t := l.pending[0]
		l.pending = l.pending[1:]
		return t, nil
	}

	if l.atBOL && l.depth == 0 {
		if t, ok, err := l.handleIndent(); err != nil {
			return token{}, err
		} else if ok {
			return t, nil
		}
	}

	l.skipSpacesAndComments()

	if l.pos >= len(l.src) {
		// Close any open blocks before EOF.
		if len(l.indents) > 1 {
			l.indents = l.indents[:len(l.indents)-1]
			return token{typ: tokenDedent, line: l.line}, nil
		}
		return token{typ: tokenEOF, line: l.line}, nil
	}

	ch := l.src[l.pos]

	if ch == '\n' {
		l.pos++
		l.line++
		if l.depth > 0 {
			return l.next()
		}
		l.atBOL = true
		return token{typ: tokenNewline, line: l.line - 1}, nil
	}

	if isNameStart(ch) {
		return l.lexNameOrString()
	}
	if ch >= '0' && ch <= '9' {
		return l.lexNumber()
	}
	if ch == '"' || ch == '\'' {
		return l.lexString(false)
	}

	return l.lexOperator()
}

// handleIndent measures leading whitespace at the beginning of a line and
// emits INDENT/DEDENT tokens as the level changes. Blank and comment-only
// lines carry no layout.
func (l *lexer) handleIndent() (token, bool, error) {
	for {
		width := 0
		i := l.pos
		for i < len(l.src) {
			switch l.src[i] {
			case ' ':
				width++
			case '\t':
				width += 4
			default:
				goto measured
			}
			i++
		}
	measured:
		// Skip blank or comment-only lines entirely.
		if i >= len(l.src) {
			l.pos = i
			l.atBOL = false
			return token{}, false, nil
		}
		if l.src[i] == '\n' {
			l.pos = i + 1
			l.line++
			continue
		}
		if l.src[i] == '#' {
			for i < len(l.src) && l.src[i] != '\n' {
				i++
			}
			l.pos = i
			continue
		}

		l.pos = i
		l.atBOL = false
		current := l.indents[len(l.indents)-1]
		switch {
		case width > current:
			l.indents = append(l.indents, width)
			return token{typ: tokenIndent, line: l.line}, true, nil
		case width < current:
			for len(l.indents) > 1 && l.indents[len(l.indents)-1] > width {
				l.indents = l.indents[:len(l.indents)-1]
				l.pending = append(l.pending, token{typ: tokenDedent, line: l.line})
			}
			if l.indents[len(l.indents)-1] != width {
				return token{}, false, &SyntaxError{Msg: "inconsistent indentation", Line: l.line}
			}
			t := l.pending[0]
			l.pending = l.pending[1:]
			return t, true, nil
		default:
			return token{}, false, nil
		}
	}
}

func (l *lexer) skipSpacesAndComments() {
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if ch == ' ' || ch == '\t' || ch == '\r' {
			l.pos++
			continue
		}
		if ch == '#' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		if ch == '\\' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '\n' {
			// Explicit line continuation.
			l.pos += 2
			l.line++
			continue
		}
		break
	}
}

func (l *lexer) lexNameOrString() (token, error) {
	start := l.pos
	// f-string prefix.
	if l.src[l.pos] == 'f' && l.pos+1 < len(l.src) && (l.src[l.pos+1] == '"' || l.src[l.pos+1] == '\'') {
		l.pos++
		return l.lexString(true)
	}

	for l.pos < len(l.src) && isNameChar(l.src[l.pos]) {
		l.pos++
	}
	name := l.src[start:l.pos]
	if typ, ok := keywords[name]; ok {
		return token{typ: typ, lit: name, line: l.line}, nil
	}
	return token{typ: tokenName, lit: name, line: l.line}, nil
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	isFloat := false
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if ch >= '0' && ch <= '9' || ch == '_' {
			l.pos++
			continue
		}
		if ch == '.' && !isFloat && l.pos+1 < len(l.src) && l.src[l.pos+1] >= '0' && l.src[l.pos+1] <= '9' {
			isFloat = true
			l.pos++
			continue
		}
		break
	}
	lit := strings.ReplaceAll(l.src[start:l.pos], "_", "")
	typ := tokenInt
	if isFloat {
		typ = tokenFloat
	}
	return token{typ: typ, lit: lit, line: l.line}, nil
}

// lexString scans single-, double-, and triple-quoted strings. For plain
// strings the literal is unescaped here; f-strings keep their raw content
// (braces and escapes intact) for the parser to split.
func (l *lexer) lexString(fstring bool) (token, error) {
	quote := l.src[l.pos]
	startLine := l.line
	l.pos++

	triple := false
	if l.pos+1 < len(l.src) && l.src[l.pos] == quote && l.src[l.pos+1] == quote {
		triple = true
		l.pos += 2
	}

	var raw strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, &SyntaxError{Msg: "unterminated string literal", Line: startLine}
		}
		ch := l.src[l.pos]

		if ch == '\n' {
			if !triple {
				return token{}, &SyntaxError{Msg: "unterminated string literal", Line: startLine}
			}
			raw.WriteByte(ch)
			l.pos++
			l.line++
			continue
		}
		if ch == '\\' && l.pos+1 < len(l.src) {
			raw.WriteByte(ch)
			raw.WriteByte(l.src[l.pos+1])
			l.pos += 2
			continue
		}
		if ch == quote {
			if !triple {
				l.pos++
				break
			}
			if l.pos+2 < len(l.src) && l.src[l.pos+1] == quote && l.src[l.pos+2] == quote {
				l.pos += 3
				break
			}
			if l.pos+2 == len(l.src) && l.src[l.pos+1] == quote {
				return token{}, &SyntaxError{Msg: "unterminated string literal", Line: startLine}
			}
			raw.WriteByte(ch)
			l.pos++
			continue
		}
		raw.WriteByte(ch)
		l.pos++
	}

	if fstring {
		return token{typ: tokenFStr, lit: raw.String(), line: startLine}, nil
	}
	lit, err := unescape(raw.String(), startLine)
	if err != nil {
		return token{}, err
	}
	return token{typ: tokenStr, lit: lit, line: startLine}, nil
}

func (l *lexer) lexOperator() (token, error) {
	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	line := l.line

	switch two {
	case "//":
		l.pos += 2
		return token{typ: tokenSlashSlash, lit: two, line: line}, nil
	case "+=":
		l.pos += 2
		return token{typ: tokenPlusAssign, lit: two, line: line}, nil
	case "-=":
		l.pos += 2
		return token{typ: tokenMinusAssign, lit: two, line: line}, nil
	case "*=":
		l.pos += 2
		return token{typ: tokenStarAssign, lit: two, line: line}, nil
	case "/=":
		l.pos += 2
		return token{typ: tokenSlashAssign, lit: two, line: line}, nil
	case "==":
		l.pos += 2
		return token{typ: tokenEq, lit: two, line: line}, nil
	case "!=":
		l.pos += 2
		return token{typ: tokenNe, lit: two, line: line}, nil
	case "<=":
		l.pos += 2
		return token{typ: tokenLe, lit: two, line: line}, nil
	case ">=":
		l.pos += 2
		return token{typ: tokenGe, lit: two, line: line}, nil
	}

	ch := l.src[l.pos]
	l.pos++
	single := string(ch)
	switch ch {
	case '+':
		return token{typ: tokenPlus, lit: single, line: line}, nil
	case '-':
		return token{typ: tokenMinus, lit: single, line: line}, nil
	case '*':
		return token{typ: tokenStar, lit: single, line: line}, nil
	case '/':
		return token{typ: tokenSlash, lit: single, line: line}, nil
	case '%':
		return token{typ: tokenPercent, lit: single, line: line}, nil
	case '=':
		return token{typ: tokenAssign, lit: single, line: line}, nil
	case '<':
		return token{typ: tokenLt, lit: single, line: line}, nil
	case '>':
		return token{typ: tokenGt, lit: single, line: line}, nil
	case '(':
		l.depth++
		return token{typ: tokenLParen, lit: single, line: line}, nil
	case ')':
		l.depth--
		return token{typ: tokenRParen, lit: single, line: line}, nil
	case '[':
		l.depth++
		return token{typ: tokenLBracket, lit: single, line: line}, nil
	case ']':
		l.depth--
		return token{typ: tokenRBracket, lit: single, line: line}, nil
	case '{':
		l.depth++
		return token{typ: tokenLBrace, lit: single, line: line}, nil
	case '}':
		l.depth--
		return token{typ: tokenRBrace, lit: single, line: line}, nil
	case ',':
		return token{typ: tokenComma, lit: single, line: line}, nil
	case ':':
		return token{typ: tokenColon, lit: single, line: line}, nil
	case '.':
		return token{typ: tokenDot, lit: single, line: line}, nil
	}

	return token{}, &SyntaxError{Msg: fmt.Sprintf("unexpected character %q", single), Line: line}
}

// unescape processes backslash escapes in a string literal.
func unescape(s string, line int) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			sb.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case '\\':
			sb.WriteByte('\\')
		case '\'':
			sb.WriteByte('\'')
		case '"':
			sb.WriteByte('"')
		case '\n':
			// Escaped newline joins lines.
		default:
			sb.WriteByte('\\')
			sb.WriteByte(s[i])
		}
	}
	return sb.String(), nil
}

func isNameStart(ch byte) bool {
	return ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z'
}

func isNameChar(ch byte) bool {
	return isNameStart(ch) || ch >= '0' && ch <= '9'
}
