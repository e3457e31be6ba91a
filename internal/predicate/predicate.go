// Package predicate implements the boolean expression language used by
// playbook bindings and step conditions. Expressions are parsed into an AST
// and evaluated without any dynamic code execution; evaluation time is
// bounded by the expression size. Grammar:
//
//	expr      = or
//	or        = and { "||" and }
//	and       = term { "&&" term }
//	term      = "(" expr ")" | comparison | containment
//	comparison = operand ( "==" | "!=" ) operand
//	containment = path "." "contains" "(" literal ")"
//	operand   = path | literal
//	literal   = string | number | "true" | "false"
//	path      = ident { "." ident }
//
// A referenced field that is absent from the environment makes the enclosing
// comparison false rather than failing the whole evaluation.
package predicate

import (
	"fmt"
	"strconv"
)

// Env resolves field paths to values during evaluation.
type Env interface {
	Resolve(path []string) (any, bool)
}

// MapEnv is an Env over nested string-keyed maps.
type MapEnv map[string]any

// Resolve walks the nested maps along path.
func (m MapEnv) Resolve(path []string) (any, bool) {
	var cur any = map[string]any(m)
	for _, seg := range path {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SyntaxError reports a malformed predicate. Surfaced at binding-creation
// time; a stored predicate never fails to parse at match time.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("predicate syntax error at position %d: %s", e.Pos, e.Msg)
}

// EvalError reports operand misuse during evaluation, such as calling
// contains on a scalar. Callers treat it as a non-match, not a fault.
type EvalError struct {
	Path string
	Msg  string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("predicate evaluation error on %q: %s", e.Path, e.Msg)
}

// Program is a parsed predicate ready for repeated evaluation.
type Program struct {
	src  string
	root node
}

// Source returns the original predicate text.
func (p *Program) Source() string { return p.src }

// Parse compiles a predicate expression. Returns *SyntaxError on malformed
// input.
func Parse(src string) (*Program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, src: src}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, &SyntaxError{Pos: p.peek().pos, Msg: fmt.Sprintf("unexpected %q", p.peek().text)}
	}
	return &Program{src: src, root: root}, nil
}

// Eval evaluates the program against env. The error, if non-nil, is an
// *EvalError and indicates operand misuse; the boolean result is false in
// that case.
func (p *Program) Eval(env Env) (bool, error) {
	return p.root.eval(env)
}

// Match evaluates the program and treats evaluation errors as non-matches.
func (p *Program) Match(env Env) bool {
	ok, err := p.root.eval(env)
	if err != nil {
		return false
	}
	return ok
}

// Evaluate parses and evaluates in one step. Prefer Parse + Eval when the
// same predicate runs against many events.
func Evaluate(src string, env Env) (bool, error) {
	prog, err := Parse(src)
	if err != nil {
		return false, err
	}
	return prog.Eval(env)
}

// AST nodes.

type node interface {
	eval(env Env) (bool, error)
}

type operand interface {
	value(env Env) (any, bool)
	describe() string
}

type boolBinary struct {
	op  string // "&&" or "||"
	lhs node
	rhs node
}

func (n *boolBinary) eval(env Env) (bool, error) {
	left, err := n.lhs.eval(env)
	if err != nil {
		return false, err
	}
	if n.op == "&&" && !left {
		return false, nil
	}
	if n.op == "||" && left {
		return true, nil
	}
	return n.rhs.eval(env)
}

type comparison struct {
	op  string // "==" or "!="
	lhs operand
	rhs operand
}

func (n *comparison) eval(env Env) (bool, error) {
	lv, lok := n.lhs.value(env)
	rv, rok := n.rhs.value(env)
	// An absent field makes the comparison false rather than fatal.
	if !lok || !rok {
		return false, nil
	}
	eq := valuesEqual(lv, rv)
	if n.op == "!=" {
		return !eq, nil
	}
	return eq, nil
}

type containment struct {
	field fieldRef
	arg   literal
}

func (n *containment) eval(env Env) (bool, error) {
	v, ok := n.field.value(env)
	if !ok {
		return false, nil
	}
	want := n.arg.val
	switch coll := v.(type) {
	case []any:
		for _, item := range coll {
			if valuesEqual(item, want) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		for _, item := range coll {
			if valuesEqual(item, want) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, &EvalError{Path: n.field.describe(), Msg: "contains requires a collection field"}
	}
}

type fieldRef struct {
	path []string
}

func (f fieldRef) value(env Env) (any, bool) {
	return env.Resolve(f.path)
}

func (f fieldRef) describe() string {
	out := ""
	for i, seg := range f.path {
		if i > 0 {
			out += "."
		}
		out += seg
	}
	return out
}

type literal struct {
	val any // string, float64, or bool
}

func (l literal) value(Env) (any, bool) { return l.val, true }
func (l literal) describe() string      { return fmt.Sprintf("%v", l.val) }

// valuesEqual compares two scalars: numerically when both coerce to numbers,
// otherwise by normalized string form.
func valuesEqual(a, b any) bool {
	if an, aok := toFloat64(a); aok {
		if bn, bok := toFloat64(b); bok {
			return an == bn
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		// Strings do not silently coerce; "10" != 10.
		return 0, false
	}
	return 0, false
}

// parser

type parser struct {
	toks []token
	pos  int
	src  string
}

func (p *parser) peek() token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return token{kind: tokEOF, pos: len(p.src)}
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) atEnd() bool { return p.peek().kind == tokEOF }

func (p *parser) parseExpr() (node, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolBinary{op: "||", lhs: left, rhs: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &boolBinary{op: "&&", lhs: left, rhs: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, &SyntaxError{Pos: p.peek().pos, Msg: "expected ')'"}
		}
		p.next()
		return inner, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	// path.contains(literal)
	if ref, ok := left.(fieldRef); ok && p.peek().kind == tokLParen {
		last := ref.path[len(ref.path)-1]
		if last != "contains" || len(ref.path) < 2 {
			return nil, &SyntaxError{Pos: p.peek().pos, Msg: fmt.Sprintf("unknown function %q", last)}
		}
		p.next()
		argTok := p.next()
		arg, ok := literalFromToken(argTok)
		if !ok {
			return nil, &SyntaxError{Pos: argTok.pos, Msg: "contains argument must be a literal"}
		}
		if p.peek().kind != tokRParen {
			return nil, &SyntaxError{Pos: p.peek().pos, Msg: "expected ')' after contains argument"}
		}
		p.next()
		return &containment{field: fieldRef{path: ref.path[:len(ref.path)-1]}, arg: arg}, nil
	}

	opTok := p.peek()
	if opTok.kind != tokEq && opTok.kind != tokNeq {
		return nil, &SyntaxError{Pos: opTok.pos, Msg: "expected comparison operator"}
	}
	p.next()

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	op := "=="
	if opTok.kind == tokNeq {
		op = "!="
	}
	return &comparison{op: op, lhs: left, rhs: right}, nil
}

func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		if t.text == "true" {
			return literal{val: true}, nil
		}
		if t.text == "false" {
			return literal{val: false}, nil
		}
		path := []string{t.text}
		for p.peek().kind == tokDot {
			p.next()
			seg := p.next()
			if seg.kind != tokIdent {
				return nil, &SyntaxError{Pos: seg.pos, Msg: "expected identifier after '.'"}
			}
			path = append(path, seg.text)
		}
		return fieldRef{path: path}, nil
	case tokString:
		return literal{val: t.text}, nil
	case tokNumber:
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: "invalid number"}
		}
		return literal{val: n}, nil
	default:
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
}

func literalFromToken(t token) (literal, bool) {
	switch t.kind {
	case tokString:
		return literal{val: t.text}, true
	case tokNumber:
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return literal{}, false
		}
		return literal{val: n}, true
	case tokIdent:
		if t.text == "true" {
			return literal{val: true}, true
		}
		if t.text == "false" {
			return literal{val: false}, true
		}
	}
	return literal{}, false
}
