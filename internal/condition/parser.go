package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError is returned for any condition grammar violation. It is
// raised at parse time only — evaluation never fails, it returns false.
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return e.msg }

func parseErrorf(format string, args ...interface{}) error {
	return &ParseError{msg: fmt.Sprintf(format, args...)}
}

var comparisonOps = map[string]bool{">": true, "<": true, ">=": true, "<=": true, "==": true, "!=": true}
var crossoverOps = map[string]bool{"crosses": true, "crosses_above": true, "crosses_below": true}

// Parser holds the parsed AST for one condition string along with the
// indicator requirements and lookback depth collected while parsing.
type Parser struct {
	raw    string
	tokens []string
	pos    int

	ast *Node

	requiredIndicators map[string][]int
	maxLookback        int
}

// Parse tokenizes and parses condition into a Parser ready for evaluation,
// or returns a ParseError describing the first grammar violation.
func Parse(conditionStr string) (*Parser, error) {
	p := &Parser{
		raw:                strings.TrimSpace(conditionStr),
		requiredIndicators: make(map[string][]int),
	}
	p.tokens = tokenize(p.raw)
	if len(p.tokens) == 0 {
		return nil, parseErrorf("empty condition")
	}
	p.pos = 0

	ast, err := p.parseOrExpression()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, parseErrorf("unexpected token after expression: %s", p.tokens[p.pos])
	}
	p.ast = ast
	return p, nil
}

// AST returns the parsed root node.
func (p *Parser) AST() *Node { return p.ast }

// RequiredIndicators returns the indicator families and periods referenced
// anywhere in the expression (default period 14 when none is named).
func (p *Parser) RequiredIndicators() map[string][]int {
	out := make(map[string][]int, len(p.requiredIndicators))
	for k, v := range p.requiredIndicators {
		out[k] = append([]int(nil), v...)
	}
	return out
}

// RequiredLookback returns the maximum bar offset needed to evaluate the
// expression.
func (p *Parser) RequiredLookback() int { return p.maxLookback }

func (p *Parser) current() (string, bool) {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos], true
	}
	return "", false
}

func (p *Parser) consume() (string, error) {
	tok, ok := p.current()
	if !ok {
		return "", parseErrorf("unexpected end of condition")
	}
	p.pos++
	return tok, nil
}

func (p *Parser) parseOrExpression() (*Node, error) {
	left, err := p.parseAndExpression()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.current()
		if !ok || tok != "or" {
			break
		}
		p.pos++
		right, err := p.parseAndExpression()
		if err != nil {
			return nil, err
		}
		left = &Node{Type: NodeOr, LeftNode: left, RightNode: right}
	}
	return left, nil
}

func (p *Parser) parseAndExpression() (*Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.current()
		if !ok || tok != "and" {
			break
		}
		p.pos++
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &Node{Type: NodeAnd, LeftNode: left, RightNode: right}
	}
	return left, nil
}

func (p *Parser) parsePrimary() (*Node, error) {
	tok, ok := p.current()
	if ok && tok == "(" {
		p.pos++
		node, err := p.parseOrExpression()
		if err != nil {
			return nil, err
		}
		closeTok, ok := p.current()
		if !ok || closeTok != ")" {
			return nil, parseErrorf("missing closing parenthesis")
		}
		p.pos++
		return node, nil
	}
	return p.parseCondition()
}

func (p *Parser) parseCondition() (*Node, error) {
	leftTok, err := p.consume()
	if err != nil {
		return nil, err
	}
	left, leftOffset := p.parseOperand(leftTok)

	if tok, ok := p.current(); ok && tok == "was" {
		p.pos++
		return p.parseLookback(left, leftOffset)
	}

	if tok, ok := p.current(); ok && crossoverOps[tok] {
		crossType, _ := p.consume()
		rightTok, err := p.consume()
		if err != nil {
			return nil, err
		}
		right, rightOffset := p.parseOperand(rightTok)

		p.trackIndicator(left)
		p.trackIndicator(right)

		// The comparison index itself only advances on an explicit
		// bracket offset; a bare crossover checks the latest bar.
		// required_lookback is what's forced to at least 1 bar of
		// history so there's a previous sample to compare against.
		offset := maxInt(leftOffset, rightOffset)
		p.maxLookback = maxInt(p.maxLookback, offset+1, 1)

		return &Node{
			Type:         NodeCrossover,
			LeftOperand:  left,
			RightOperand: right,
			Operator:     crossType,
			Offset:       offset,
		}, nil
	}

	opTok, ok := p.current()
	if !ok || !comparisonOps[opTok] {
		return nil, parseErrorf("expected comparison operator, got: %s", opTok)
	}
	p.pos++

	rightTok, err := p.consume()
	if err != nil {
		return nil, err
	}
	right, rightOffset := p.parseOperand(rightTok)

	p.trackIndicator(left)
	p.trackIndicator(right)

	offset := maxInt(leftOffset, rightOffset)
	p.maxLookback = maxInt(p.maxLookback, offset)

	return &Node{
		Type:         NodeComparison,
		LeftOperand:  left,
		RightOperand: right,
		Operator:     opTok,
		Offset:       offset,
	}, nil
}

func (p *Parser) parseLookback(field Operand, fieldOffset int) (*Node, error) {
	opTok, ok := p.current()
	if !ok || !comparisonOps[opTok] {
		return nil, parseErrorf("expected operator after 'was', got: %s", opTok)
	}
	p.pos++

	valueTok, err := p.consume()
	if err != nil {
		return nil, err
	}
	value, _ := p.parseOperand(valueTok)

	timeKw, ok := p.current()
	if !ok {
		return nil, parseErrorf("expected time keyword after lookback value")
	}
	days, ok := LookbackDays[timeKw]
	if !ok {
		return nil, parseErrorf("expected time keyword (yesterday, 2_days_ago, ...), got: %s", timeKw)
	}
	p.pos++

	totalOffset := fieldOffset + days
	p.maxLookback = maxInt(p.maxLookback, totalOffset)

	p.trackIndicator(field)

	return &Node{
		Type:         NodeLookback,
		LeftOperand:  field,
		RightOperand: value,
		Operator:     opTok,
		LookbackDays: days,
		Offset:       totalOffset,
	}, nil
}

// parseOperand parses a token into an Operand: a bracketed offset suffix is
// stripped first, then the remainder is tried as a number (with K/M/B
// suffix) before falling back to a lower-cased field name.
func (p *Parser) parseOperand(token string) (Operand, int) {
	offset := 0
	if m := offsetPattern.FindStringSubmatch(token); m != nil {
		token = m[1]
		if n, err := strconv.Atoi(m[2]); err == nil {
			offset = n
		}
	}

	if v, ok := parseNumericOperand(token); ok {
		return Operand{IsLiteral: true, Literal: v}, offset
	}

	return Operand{Field: strings.ToLower(token), Offset: offset}, offset
}

func parseNumericOperand(token string) (float64, bool) {
	upper := strings.ToUpper(token)
	switch {
	case strings.HasSuffix(upper, "K"):
		if v, err := strconv.ParseFloat(token[:len(token)-1], 64); err == nil {
			return v * 1_000, true
		}
	case strings.HasSuffix(upper, "M"):
		if v, err := strconv.ParseFloat(token[:len(token)-1], 64); err == nil {
			return v * 1_000_000, true
		}
	case strings.HasSuffix(upper, "B"):
		if v, err := strconv.ParseFloat(token[:len(token)-1], 64); err == nil {
			return v * 1_000_000_000, true
		}
	}
	if v, err := strconv.ParseFloat(token, 64); err == nil {
		return v, true
	}
	return 0, false
}

func (p *Parser) trackIndicator(op Operand) {
	if op.IsLiteral {
		return
	}
	field := strings.ToLower(op.Field)
	if _, isQuoteField := QuoteFieldAliases[field]; isQuoteField {
		return
	}
	name, period, ok := matchIndicator(field)
	if !ok {
		return
	}
	for _, existing := range p.requiredIndicators[name] {
		if existing == period {
			return
		}
	}
	p.requiredIndicators[name] = append(p.requiredIndicators[name], period)
}

func maxInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
