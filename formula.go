package goagua

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Register formulas come from the vendor's registers map catalog and carry a
// single '#' placeholder that stands for the raw (decode) or user supplied
// (encode) value. They are evaluated with a restricted recursive-descent
// parser instead of a general-purpose interpreter, so a tampered server
// response can at worst produce a wrong number.
//
// Grammar:
//
//	expr   = term { ("+"|"-") term }
//	term   = factor { ("*"|"/") factor }
//	factor = "-" factor | number | "#" | "(" expr ")"
type formulaParser struct {
	input string
	pos   int
	value float64
}

// evalFormula evaluates expr with value substituted for every '#'.
func evalFormula(expr string, value float64) (float64, error) {
	p := &formulaParser{input: expr, value: value}
	result, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("formula %q: unexpected character %q at position %d", expr, p.input[p.pos], p.pos)
	}
	return result, nil
}

func (p *formulaParser) skipSpaces() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *formulaParser) peek() (byte, bool) {
	p.skipSpaces()
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

func (p *formulaParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.peek()
		if !ok || (op != '+' && op != '-') {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *formulaParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.peek()
		if !ok || (op != '*' && op != '/') {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, fmt.Errorf("formula %q: division by zero", p.input)
			}
			left /= right
		}
	}
}

func (p *formulaParser) parseFactor() (float64, error) {
	ch, ok := p.peek()
	if !ok {
		return 0, fmt.Errorf("formula %q: unexpected end of expression", p.input)
	}
	switch {
	case ch == '-':
		p.pos++
		v, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -v, nil
	case ch == '#':
		p.pos++
		return p.value, nil
	case ch == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		closing, ok := p.peek()
		if !ok || closing != ')' {
			return 0, fmt.Errorf("formula %q: missing closing parenthesis", p.input)
		}
		p.pos++
		return v, nil
	case ch >= '0' && ch <= '9' || ch == '.':
		return p.parseNumber()
	default:
		return 0, fmt.Errorf("formula %q: unexpected character %q at position %d", p.input, ch, p.pos)
	}
}

func (p *formulaParser) parseNumber() (float64, error) {
	start := p.pos
	seenDot := false
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if ch == '.' {
			if seenDot {
				break
			}
			seenDot = true
			p.pos++
			continue
		}
		if ch < '0' || ch > '9' {
			break
		}
		p.pos++
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("formula %q: invalid number %q", p.input, p.input[start:p.pos])
	}
	return v, nil
}

// formatPrecision extracts the decimal precision from a register's format
// string. The vendor uses single-argument templates such as "{0}" or
// "{0:.1f}"; only the precision part carries meaning for numeric fields.
// Returns -1 when the template does not constrain precision.
func formatPrecision(format string) (int, error) {
	format = strings.TrimSpace(format)
	if format == "" || format == "{0}" {
		return -1, nil
	}
	if !strings.HasPrefix(format, "{0:") || !strings.HasSuffix(format, "}") {
		return 0, fmt.Errorf("unsupported format string %q", format)
	}
	spec := format[len("{0:") : len(format)-1]
	if !strings.HasPrefix(spec, ".") || !strings.HasSuffix(spec, "f") {
		return 0, fmt.Errorf("unsupported format string %q", format)
	}
	prec, err := strconv.Atoi(spec[1 : len(spec)-1])
	if err != nil || prec < 0 {
		return 0, fmt.Errorf("unsupported format string %q", format)
	}
	return prec, nil
}

// formatValue applies a register's format string to an evaluated number.
func formatValue(format string, v float64) (float64, error) {
	prec, err := formatPrecision(format)
	if err != nil {
		return 0, err
	}
	if prec < 0 {
		return v, nil
	}
	shift := math.Pow(10, float64(prec))
	return math.Round(v*shift) / shift, nil
}

// decodeValue turns a raw telemetry reading into the register's
// application-level value.
func decodeValue(entry *RegisterEntry, raw float64) (float64, error) {
	result, err := evalFormula(entry.Formula, raw)
	if err != nil {
		return 0, NewOperationError(fmt.Sprintf("decoding register %s", entry.Key), err)
	}
	formatted, err := formatValue(entry.FormatString, result)
	if err != nil {
		return 0, NewOperationError(fmt.Sprintf("formatting register %s", entry.Key), err)
	}
	return formatted, nil
}

// encodeValue turns a user supplied value into the integer wire
// representation expected by the write endpoint.
func encodeValue(entry *RegisterEntry, value float64) (int, error) {
	result, err := evalFormula(entry.FormulaInverse, value)
	if err != nil {
		return 0, NewOperationError(fmt.Sprintf("encoding register %s", entry.Key), err)
	}
	formatted, err := formatValue(entry.FormatString, result)
	if err != nil {
		return 0, NewOperationError(fmt.Sprintf("formatting register %s", entry.Key), err)
	}
	return int(formatted), nil
}
