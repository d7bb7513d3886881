package msl

import "fmt"

// tokenType identifies a lexical token.
type tokenType int

const (
	tokenEOF tokenType = iota
	tokenNewline
	tokenIndent
	tokenDedent

	tokenName
	tokenInt
	tokenFloat
	tokenStr
	tokenFStr

	// Keywords.
	tokenIf
	tokenElif
	tokenElse
	tokenFor
	tokenWhile
	tokenDef
	tokenReturn
	tokenBreak
	tokenContinue
	tokenPass
	tokenIn
	tokenAnd
	tokenOr
	tokenNot
	tokenTrue
	tokenFalse
	tokenNone
	tokenImport
	tokenFrom

	// Operators and punctuation.
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenSlashSlash
	tokenPercent
	tokenAssign
	tokenPlusAssign
	tokenMinusAssign
	tokenStarAssign
	tokenSlashAssign
	tokenEq
	tokenNe
	tokenLt
	tokenLe
	tokenGt
	tokenGe
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenLBrace
	tokenRBrace
	tokenComma
	tokenColon
	tokenDot

	// tokenNotIn is synthesized by the parser from "not in".
	tokenNotIn
)

var keywords = map[string]tokenType{
	"if":       tokenIf,
	"elif":     tokenElif,
	"else":     tokenElse,
	"for":      tokenFor,
	"while":    tokenWhile,
	"def":      tokenDef,
	"return":   tokenReturn,
	"break":    tokenBreak,
	"continue": tokenContinue,
	"pass":     tokenPass,
	"in":       tokenIn,
	"and":      tokenAnd,
	"or":       tokenOr,
	"not":      tokenNot,
	"True":     tokenTrue,
	"False":    tokenFalse,
	"None":     tokenNone,
	"import":   tokenImport,
	"from":     tokenFrom,
}

// token is one lexical token with its source position.
type token struct {
	typ  tokenType
	lit  string
	line int
}

func (t token) String() string {
	switch t.typ {
	case tokenEOF:
		return "end of input"
	case tokenNewline:
		return "newline"
	case tokenIndent:
		return "indent"
	case tokenDedent:
		return "dedent"
	default:
		return fmt.Sprintf("%q", t.lit)
	}
}
