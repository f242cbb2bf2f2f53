// Copyright (C) 2025 the provhub authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package filter implements the LDAP-style filter language used to resolve
// association endpoints against object attribute/tag dictionaries.
//
// Supported grammar (a subset of RFC 4515 / OSGi filters):
//
//	filter     = "(" filtercomp ")"
//	filtercomp = "&" filterlist / "|" filterlist / "!" filter / item
//	item       = attr "=" value / attr "~=" value / attr ">=" value / attr "<=" value
//
// A value of "*" is a presence test, embedded "*" characters match substrings.
// The characters ( ) * \ are escaped with a leading backslash.
package filter

import (
	"fmt"
	"strconv"
	"strings"
)

type SyntaxError struct {
	Filter string
	Pos    int
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid filter %q at position %d: %s", e.Filter, e.Pos, e.Reason)
}

// Filter is a parsed, matchable filter expression.
type Filter struct {
	root node
	src  string
}

func (f *Filter) String() string {
	return f.src
}

// Match evaluates the filter against a multi-value dictionary. A field with
// several values matches if any single value matches.
func (f *Filter) Match(dict map[string][]string) bool {
	return f.root.match(dict)
}

// Escape makes a literal value safe for embedding in a filter string.
// Without it, values containing ( ) * \ silently corrupt the query
// instead of failing loudly.
func Escape(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case '(', ')', '*', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Parse compiles a filter string. The returned error is a *SyntaxError.
func Parse(src string) (*Filter, error) {
	p := &parser{src: src}
	n, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	p.skipWhitespace()
	if p.pos != len(p.src) {
		return nil, p.errorf("trailing characters after filter")
	}
	return &Filter{root: n, src: src}, nil
}

type node interface {
	match(dict map[string][]string) bool
}

type andNode struct{ children []node }
type orNode struct{ children []node }
type notNode struct{ child node }

func (n andNode) match(dict map[string][]string) bool {
	for _, c := range n.children {
		if !c.match(dict) {
			return false
		}
	}
	return true
}

func (n orNode) match(dict map[string][]string) bool {
	for _, c := range n.children {
		if c.match(dict) {
			return true
		}
	}
	return false
}

func (n notNode) match(dict map[string][]string) bool {
	return !n.child.match(dict)
}

type operator int

const (
	opEqual operator = iota
	opApprox
	opGreaterEqual
	opLessEqual
	opPresent
	opSubstring
)

type itemNode struct {
	attr string
	op   operator
	// literal value for equal/approx/ordering comparisons
	value string
	// substring chunks; empty strings at the edges stand for leading or
	// trailing wildcards
	chunks []string
}

func (n itemNode) match(dict map[string][]string) bool {
	values, ok := dict[n.attr]
	if !ok {
		return false
	}
	for _, v := range values {
		if n.matchValue(v) {
			return true
		}
	}
	return false
}

func (n itemNode) matchValue(v string) bool {
	switch n.op {
	case opPresent:
		return true
	case opEqual:
		return v == n.value
	case opApprox:
		return strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(n.value))
	case opGreaterEqual:
		return compare(v, n.value) >= 0
	case opLessEqual:
		return compare(v, n.value) <= 0
	case opSubstring:
		return matchSubstring(v, n.chunks)
	}
	return false
}

// compare orders numerically when both sides are integers, lexically otherwise.
func compare(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func matchSubstring(v string, chunks []string) bool {
	// chunks[0] anchors the start, chunks[len-1] anchors the end; empty
	// chunks are wildcards
	if len(chunks) == 0 {
		return true
	}
	first := chunks[0]
	if first != "" {
		if !strings.HasPrefix(v, first) {
			return false
		}
		v = v[len(first):]
	}
	last := chunks[len(chunks)-1]
	middle := chunks[1 : len(chunks)-1]
	if len(chunks) == 1 {
		// no wildcard at all, first==last already consumed
		return v == ""
	}
	for _, c := range middle {
		if c == "" {
			continue
		}
		idx := strings.Index(v, c)
		if idx < 0 {
			return false
		}
		v = v[idx+len(c):]
	}
	if last != "" {
		return strings.HasSuffix(v, last)
	}
	return true
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Filter: p.src, Pos: p.pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) skipWhitespace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) expect(c byte) error {
	if p.pos >= len(p.src) || p.src[p.pos] != c {
		return p.errorf("expected %q", string(c))
	}
	p.pos++
	return nil
}

func (p *parser) peek() (byte, bool) {
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

func (p *parser) parseFilter() (node, error) {
	p.skipWhitespace()
	if err := p.expect('('); err != nil {
		return nil, err
	}
	n, err := p.parseFilterComp()
	if err != nil {
		return nil, err
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) parseFilterComp() (node, error) {
	c, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of filter")
	}
	switch c {
	case '&':
		p.pos++
		children, err := p.parseFilterList()
		if err != nil {
			return nil, err
		}
		return andNode{children: children}, nil
	case '|':
		p.pos++
		children, err := p.parseFilterList()
		if err != nil {
			return nil, err
		}
		return orNode{children: children}, nil
	case '!':
		p.pos++
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		return notNode{child: child}, nil
	default:
		return p.parseItem()
	}
}

func (p *parser) parseFilterList() ([]node, error) {
	var children []node
	for {
		p.skipWhitespace()
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unexpected end of filter list")
		}
		if c == ')' {
			break
		}
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 0 {
		return nil, p.errorf("empty filter list")
	}
	return children, nil
}

func (p *parser) parseItem() (node, error) {
	attr, err := p.parseAttr()
	if err != nil {
		return nil, err
	}

	op := opEqual
	c, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of filter item")
	}
	switch c {
	case '~', '>', '<':
		p.pos++
		if err := p.expect('='); err != nil {
			return nil, err
		}
		switch c {
		case '~':
			op = opApprox
		case '>':
			op = opGreaterEqual
		case '<':
			op = opLessEqual
		}
	case '=':
		p.pos++
	default:
		return nil, p.errorf("expected comparison operator")
	}

	value, chunks, wildcard, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	if op == opEqual && wildcard {
		if len(chunks) == 2 && chunks[0] == "" && chunks[1] == "" {
			return itemNode{attr: attr, op: opPresent}, nil
		}
		return itemNode{attr: attr, op: opSubstring, chunks: chunks}, nil
	}
	if wildcard {
		return nil, p.errorf("wildcard not allowed with %q comparison", string(c))
	}
	return itemNode{attr: attr, op: op, value: value}, nil
}

func (p *parser) parseAttr() (string, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '=' || c == '~' || c == '>' || c == '<' || c == '(' || c == ')' || c == '*' {
			break
		}
		p.pos++
	}
	attr := strings.TrimSpace(p.src[start:p.pos])
	if attr == "" {
		return "", p.errorf("missing attribute name")
	}
	return attr, nil
}

// parseValue reads the value part of an item. It returns the unescaped
// literal, the wildcard-split chunks, and whether any unescaped '*' occurred.
func (p *parser) parseValue() (string, []string, bool, error) {
	var literal strings.Builder
	var chunks []string
	var current strings.Builder
	wildcard := false

	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case ')':
			chunks = append(chunks, current.String())
			return literal.String(), chunks, wildcard, nil
		case '(':
			return "", nil, false, p.errorf("unescaped '(' in value")
		case '*':
			wildcard = true
			chunks = append(chunks, current.String())
			current.Reset()
			p.pos++
		case '\\':
			if p.pos+1 >= len(p.src) {
				return "", nil, false, p.errorf("dangling escape")
			}
			p.pos++
			literal.WriteByte(p.src[p.pos])
			current.WriteByte(p.src[p.pos])
			p.pos++
		default:
			literal.WriteByte(c)
			current.WriteByte(c)
			p.pos++
		}
	}
	return "", nil, false, p.errorf("unterminated value")
}
