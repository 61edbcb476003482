package typing

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseOptions configures how a docblock type expression is turned into a
// Type. Object names run through ResolveName (use-statement/alias handling
// lives with the caller), Aliases supplies @psalm-type style named aliases,
// Templates supplies the template parameters in scope.
type ParseOptions struct {
	ResolveName func(name string) string
	Aliases     map[string]Type
	Templates   map[string]TemplateParam
}

// Parse parses a docblock type expression such as `array{name: string,
// age?: int}` or `?Collection<int, User>` into the algebra. On a malformed
// expression it returns mixed together with the error so that analysis can
// continue with the widest type.
func Parse(src string, opts ParseOptions) (Type, error) {
	p := &typeParser{src: strings.TrimSpace(src), opts: opts}
	if p.src == "" {
		return Mixed(), fmt.Errorf("empty type expression")
	}
	t, err := p.parseUnion()
	if err != nil {
		return Mixed(), err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Mixed(), fmt.Errorf("unexpected %q at offset %d in type %q", p.src[p.pos:], p.pos, p.src)
	}
	return t, nil
}

// MustParse is Parse for tests and built-in declarations known to be valid.
func MustParse(src string, opts ParseOptions) Type {
	t, err := Parse(src, opts)
	if err != nil {
		panic(err)
	}
	return t
}

type typeParser struct {
	src  string
	pos  int
	opts ParseOptions
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *typeParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *typeParser) eat(ch byte) bool {
	p.skipSpace()
	if p.peek() == ch {
		p.pos++
		return true
	}
	return false
}

func (p *typeParser) expect(ch byte) error {
	if !p.eat(ch) {
		return fmt.Errorf("expected %q at offset %d in type %q", string(ch), p.pos, p.src)
	}
	return nil
}

func (p *typeParser) parseUnion() (Type, error) {
	first, err := p.parseIntersection()
	if err != nil {
		return nil, err
	}
	members := []Type{first}
	for p.eat('|') {
		next, err := p.parseIntersection()
		if err != nil {
			return nil, err
		}
		members = append(members, next)
	}
	if len(members) == 1 {
		return first, nil
	}
	return NewUnion(members...), nil
}

func (p *typeParser) parseIntersection() (Type, error) {
	first, err := p.parseAtomic()
	if err != nil {
		return nil, err
	}
	members := []Type{first}
	for {
		p.skipSpace()
		// Distinguish `A&B` from `&$param` by-ref markers that never appear
		// inside a type, so a bare & always means intersection here.
		if p.peek() != '&' {
			break
		}
		p.pos++
		next, err := p.parseAtomic()
		if err != nil {
			return nil, err
		}
		members = append(members, next)
	}
	if len(members) == 1 {
		return first, nil
	}
	return NewIntersection(members...), nil
}

func (p *typeParser) parseAtomic() (Type, error) {
	p.skipSpace()

	if p.eat('?') {
		inner, err := p.parseAtomic()
		if err != nil {
			return nil, err
		}
		return Nullable(inner), nil
	}

	if p.eat('(') {
		t, err := p.parseParenthesized()
		if err != nil {
			return nil, err
		}
		return p.parseSuffix(t)
	}

	ch := p.peek()
	if ch == '\'' || ch == '"' {
		return p.parseStringLiteral(ch)
	}
	if ch == '-' || unicode.IsDigit(rune(ch)) {
		return p.parseNumberLiteral()
	}

	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	t, err := p.parseNamed(name)
	if err != nil {
		return nil, err
	}
	return p.parseSuffix(t)
}

// parseParenthesized handles both grouping and conditional return types,
// which always open with a $parameter subject.
func (p *typeParser) parseParenthesized() (Type, error) {
	p.skipSpace()
	if p.peek() == '$' {
		start := p.pos
		p.pos++
		for p.pos < len(p.src) && (isWordByte(p.src[p.pos])) {
			p.pos++
		}
		subject := p.src[start:p.pos]
		p.skipSpace()
		if strings.HasPrefix(p.src[p.pos:], "is ") {
			p.pos += 3
			isType, err := p.parseUnion()
			if err != nil {
				return nil, err
			}
			if err := p.expect('?'); err != nil {
				return nil, err
			}
			thenType, err := p.parseUnion()
			if err != nil {
				return nil, err
			}
			if err := p.expect(':'); err != nil {
				return nil, err
			}
			elseType, err := p.parseUnion()
			if err != nil {
				return nil, err
			}
			if err := p.expect(')'); err != nil {
				return nil, err
			}
			return Conditional{Subject: subject, Is: isType, Then: thenType, Else: elseType}, nil
		}
		return nil, fmt.Errorf("unexpected %q at offset %d in type %q", subject, start, p.src)
	}

	t, err := p.parseUnion()
	if err != nil {
		return nil, err
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *typeParser) parseStringLiteral(quote byte) (Type, error) {
	p.pos++
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != quote {
		p.pos++
	}
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("unterminated string literal in type %q", p.src)
	}
	value := p.src[start:p.pos]
	p.pos++
	return StringLiteral{Value: value}, nil
}

func (p *typeParser) parseNumberLiteral() (Type, error) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	isFloat := false
	for p.pos < len(p.src) && (unicode.IsDigit(rune(p.src[p.pos])) || p.src[p.pos] == '.') {
		if p.src[p.pos] == '.' {
			isFloat = true
		}
		p.pos++
	}
	raw := p.src[start:p.pos]
	if isFloat {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float literal %q in type %q", raw, p.src)
		}
		return FloatLiteral{Value: v}, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid int literal %q in type %q", raw, p.src)
	}
	return IntLiteral{Value: v}, nil
}

func (p *typeParser) parseName() (string, error) {
	p.skipSpace()
	start := p.pos
	if p.peek() == '\\' {
		p.pos++
	}
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		if isWordByte(ch) || ch == '\\' || ch == '-' {
			p.pos++
			continue
		}
		break
	}
	// A trailing hyphen belongs to the next token, not the name.
	for p.pos > start && p.src[p.pos-1] == '-' {
		p.pos--
	}
	if p.pos == start {
		return "", fmt.Errorf("expected type name at offset %d in type %q", p.pos, p.src)
	}
	return p.src[start:p.pos], nil
}

func (p *typeParser) parseNamed(name string) (Type, error) {
	lower := strings.ToLower(name)
	switch lower {
	case "int", "integer":
		// int<min, max> ranges collapse to int; range bounds are not tracked.
		if p.eat('<') {
			if _, err := p.parseRangeBound(); err != nil {
				return nil, err
			}
			if err := p.expect(','); err != nil {
				return nil, err
			}
			if _, err := p.parseRangeBound(); err != nil {
				return nil, err
			}
			if err := p.expect('>'); err != nil {
				return nil, err
			}
		}
		return Int(), nil
	case "positive-int", "negative-int", "non-negative-int", "non-positive-int", "non-zero-int":
		return Int(), nil
	case "float", "double":
		return Float(), nil
	case "string", "non-empty-string", "numeric-string", "literal-string", "lowercase-string", "truthy-string", "non-falsy-string":
		return String(), nil
	case "class-string", "interface-string", "enum-string", "trait-string":
		// The class-string<T> argument refines the value set, not the shape.
		if p.eat('<') {
			if _, err := p.parseUnion(); err != nil {
				return nil, err
			}
			if err := p.expect('>'); err != nil {
				return nil, err
			}
		}
		return String(), nil
	case "bool", "boolean":
		return Bool(), nil
	case "null":
		return Null(), nil
	case "void":
		return Void(), nil
	case "mixed":
		return Mixed(), nil
	case "never", "never-return", "no-return":
		return Never(), nil
	case "true":
		return BoolLiteral{Value: true}, nil
	case "false":
		return BoolLiteral{Value: false}, nil
	case "scalar":
		return NewUnion(Int(), Float(), String(), Bool()), nil
	case "array-key":
		return ArrayKey(), nil
	case "numeric":
		return NewUnion(Int(), Float()), nil
	case "iterable":
		k, v, err := p.parseOptionalPair()
		if err != nil {
			return nil, err
		}
		if v == nil {
			k, v = Mixed(), Mixed()
		} else if k == nil {
			k = Mixed()
		}
		return NewUnion(Shape{ExtraKey: k, ExtraValue: v}, Object{Name: "Traversable", TypeArgs: []Type{k, v}}), nil
	case "array", "non-empty-array":
		k, v, err := p.parseOptionalPair()
		if err != nil {
			return nil, err
		}
		if p.peek() == '{' {
			return p.parseShapeBody(false)
		}
		if v == nil {
			return Shape{}, nil
		}
		if k == nil {
			return Shape{ExtraKey: ArrayKey(), ExtraValue: v}, nil
		}
		return Shape{ExtraKey: k, ExtraValue: v}, nil
	case "list", "non-empty-list":
		if p.peek() == '{' {
			return p.parseShapeBody(true)
		}
		if p.eat('<') {
			el, err := p.parseUnion()
			if err != nil {
				return nil, err
			}
			if err := p.expect('>'); err != nil {
				return nil, err
			}
			return List{Element: el}, nil
		}
		return List{Element: Mixed()}, nil
	case "int-mask":
		if err := p.expect('<'); err != nil {
			return nil, err
		}
		var bits []int64
		for {
			p.skipSpace()
			lit, err := p.parseNumberLiteral()
			if err != nil {
				return nil, err
			}
			il, ok := lit.(IntLiteral)
			if !ok {
				return nil, fmt.Errorf("int-mask members must be int literals in type %q", p.src)
			}
			bits = append(bits, il.Value)
			if !p.eat(',') {
				break
			}
		}
		if err := p.expect('>'); err != nil {
			return nil, err
		}
		return IntMask{Bits: bits}, nil
	case "callable", "closure", "\\closure":
		if p.peek() == '(' {
			return p.parseCallableSignature()
		}
		if lower == "callable" {
			return Callable{Return: Mixed()}, nil
		}
		return Object{Name: "Closure"}, nil
	}

	// Template parameters in scope win over class names.
	if p.opts.Templates != nil {
		if tp, ok := p.opts.Templates[name]; ok {
			return tp, nil
		}
	}
	// Named aliases from @psalm-type / @phpstan-type / @type.
	if p.opts.Aliases != nil {
		if alias, ok := p.opts.Aliases[name]; ok {
			return alias, nil
		}
	}

	resolved := strings.TrimPrefix(name, "\\")
	if p.opts.ResolveName != nil && !strings.HasPrefix(name, "\\") {
		resolved = strings.TrimPrefix(p.opts.ResolveName(name), "\\")
	}
	obj := Object{Name: resolved}
	if p.eat('<') {
		for {
			arg, err := p.parseUnion()
			if err != nil {
				return nil, err
			}
			obj.TypeArgs = append(obj.TypeArgs, arg)
			if !p.eat(',') {
				break
			}
		}
		if err := p.expect('>'); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// parseRangeBound accepts an int literal or the min/max keywords of an
// int<min, max> range.
func (p *typeParser) parseRangeBound() (Type, error) {
	p.skipSpace()
	ch := p.peek()
	if ch == '-' || unicode.IsDigit(rune(ch)) {
		return p.parseNumberLiteral()
	}
	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(name) {
	case "min", "max":
		return Int(), nil
	}
	return nil, fmt.Errorf("invalid range bound %q in type %q", name, p.src)
}

// parseOptionalPair parses `<V>` or `<K, V>` when present, returning nil
// types when absent.
func (p *typeParser) parseOptionalPair() (Type, Type, error) {
	if !p.eat('<') {
		return nil, nil, nil
	}
	first, err := p.parseUnion()
	if err != nil {
		return nil, nil, err
	}
	if p.eat(',') {
		second, err := p.parseUnion()
		if err != nil {
			return nil, nil, err
		}
		if err := p.expect('>'); err != nil {
			return nil, nil, err
		}
		return first, second, nil
	}
	if err := p.expect('>'); err != nil {
		return nil, nil, err
	}
	return nil, first, nil
}

func (p *typeParser) parseShapeBody(list bool) (Type, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	shape := Shape{Sealed: true}
	index := 0
	for {
		p.skipSpace()
		if p.peek() == '}' {
			break
		}
		if strings.HasPrefix(p.src[p.pos:], "...") {
			p.pos += 3
			shape.Sealed = false
			// An optional `<K, V>` refines the extra entries.
			k, v, err := p.parseOptionalPair()
			if err != nil {
				return nil, err
			}
			shape.ExtraKey, shape.ExtraValue = k, v
			if shape.ExtraValue == nil {
				shape.ExtraKey, shape.ExtraValue = ArrayKey(), Mixed()
			} else if shape.ExtraKey == nil {
				shape.ExtraKey = ArrayKey()
			}
			break
		}

		// Entries are `key: type`, `key?: type` or positional `type`.
		save := p.pos
		key, optional, positional := "", false, true
		if name, err := p.parseName(); err == nil {
			p.skipSpace()
			if p.peek() == '?' || p.peek() == ':' {
				key = name
				if p.peek() == '?' {
					p.pos++
					optional = true
				}
				if err := p.expect(':'); err != nil {
					return nil, err
				}
				positional = false
			} else {
				p.pos = save
			}
		} else {
			p.pos = save
		}
		if positional {
			key = strconv.Itoa(index)
		}
		index++

		value, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		shape.Keys = append(shape.Keys, ShapeKey{Name: key, Value: value, Optional: optional})
		if !p.eat(',') {
			break
		}
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}
	_ = list
	return shape, nil
}

func (p *typeParser) parseCallableSignature() (Type, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var params []CallableParam
	for {
		p.skipSpace()
		if p.peek() == ')' {
			break
		}
		variadic := false
		if strings.HasPrefix(p.src[p.pos:], "...") {
			p.pos += 3
			variadic = true
		}
		t, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		optional := false
		if p.eat('=') {
			optional = true
		}
		// Parameter names in callable signatures are documentation only.
		p.skipSpace()
		if p.peek() == '$' {
			for p.pos < len(p.src) && p.src[p.pos] != ',' && p.src[p.pos] != ')' {
				p.pos++
			}
		}
		params = append(params, CallableParam{Type: t, Optional: optional, Variadic: variadic})
		if !p.eat(',') {
			break
		}
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	ret := Type(Mixed())
	if p.eat(':') {
		r, err := p.parseAtomic()
		if err != nil {
			return nil, err
		}
		ret = r
	}
	return Callable{Params: params, Return: ret}, nil
}

// parseSuffix applies `[]` suffixes: T[] is array<array-key, T>.
func (p *typeParser) parseSuffix(t Type) (Type, error) {
	for {
		p.skipSpace()
		if strings.HasPrefix(p.src[p.pos:], "[]") {
			p.pos += 2
			t = Shape{ExtraKey: ArrayKey(), ExtraValue: t}
			continue
		}
		return t, nil
	}
}

func isWordByte(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}
