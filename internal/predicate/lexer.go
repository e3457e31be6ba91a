package predicate

import "fmt"

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokEq
	tokNeq
	tokAnd
	tokOr
	tokDot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '.':
			toks = append(toks, token{kind: tokDot, text: ".", pos: i})
			i++
		case c == '=':
			if i+1 >= len(src) || src[i+1] != '=' {
				return nil, &SyntaxError{Pos: i, Msg: "expected '==' (single '=' is not assignment here)"}
			}
			toks = append(toks, token{kind: tokEq, text: "==", pos: i})
			i += 2
		case c == '!':
			if i+1 >= len(src) || src[i+1] != '=' {
				return nil, &SyntaxError{Pos: i, Msg: "expected '!='"}
			}
			toks = append(toks, token{kind: tokNeq, text: "!=", pos: i})
			i += 2
		case c == '&':
			if i+1 >= len(src) || src[i+1] != '&' {
				return nil, &SyntaxError{Pos: i, Msg: "expected '&&'"}
			}
			toks = append(toks, token{kind: tokAnd, text: "&&", pos: i})
			i += 2
		case c == '|':
			if i+1 >= len(src) || src[i+1] != '|' {
				return nil, &SyntaxError{Pos: i, Msg: "expected '||'"}
			}
			toks = append(toks, token{kind: tokOr, text: "||", pos: i})
			i += 2
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			if j >= len(src) {
				return nil, &SyntaxError{Pos: i, Msg: "unterminated string"}
			}
			toks = append(toks, token{kind: tokString, text: src[i+1 : j], pos: i})
			i = j + 1
		case c >= '0' && c <= '9' || c == '-':
			j := i
			if c == '-' {
				j++
				if j >= len(src) || src[j] < '0' || src[j] > '9' {
					return nil, &SyntaxError{Pos: i, Msg: "expected digit after '-'"}
				}
			}
			seenDot := false
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.' && !seenDot) {
				if src[j] == '.' {
					// A trailing dot belongs to a path, not the number.
					if j+1 >= len(src) || src[j+1] < '0' || src[j+1] > '9' {
						break
					}
					seenDot = true
				}
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], pos: i})
			i = j
		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i})
			i = j
		default:
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}
