// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package jobmatch implements the JobMatch filter expression language used
// by the status, kill, and rerun subcommands: matching by id, name glob,
// state, and boolean combinators.
package jobmatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/taskpar/tpar/internal/queue"
)

// Matcher evaluates a parsed filter expression against a job.
type Matcher interface {
	Match(job *queue.Job) bool
	String() string
}

// All matches every job; it is the filter "status" uses when no expression
// is given.
var All Matcher = allMatcher{}

type allMatcher struct{}

func (allMatcher) Match(*queue.Job) bool { return true }
func (allMatcher) String() string        { return "" }

type idMatcher struct{ id queue.JobId }

func (m idMatcher) Match(j *queue.Job) bool { return j.Id == m.id }
func (m idMatcher) String() string          { return fmt.Sprintf("id:%d", m.id) }

type nameMatcher struct{ pattern string }

func (m nameMatcher) Match(j *queue.Job) bool {
	ok, err := doublestar.Match(m.pattern, j.Request.Name)
	return err == nil && ok
}
func (m nameMatcher) String() string { return "name:" + m.pattern }

type stateMatcher struct{ kind queue.StateKind }

func (m stateMatcher) Match(j *queue.Job) bool { return j.State.Kind == m.kind }
func (m stateMatcher) String() string          { return "state:" + m.kind.String() }

type notMatcher struct{ inner Matcher }

func (m notMatcher) Match(j *queue.Job) bool { return !m.inner.Match(j) }
func (m notMatcher) String() string          { return "not " + m.inner.String() }

type andMatcher struct{ left, right Matcher }

func (m andMatcher) Match(j *queue.Job) bool { return m.left.Match(j) && m.right.Match(j) }
func (m andMatcher) String() string          { return fmt.Sprintf("(%s and %s)", m.left, m.right) }

type orMatcher struct{ left, right Matcher }

func (m orMatcher) Match(j *queue.Job) bool { return m.left.Match(j) || m.right.Match(j) }
func (m orMatcher) String() string          { return fmt.Sprintf("(%s or %s)", m.left, m.right) }

func parseState(s string) (queue.StateKind, error) {
	switch strings.ToLower(s) {
	case "queued":
		return queue.Queued, nil
	case "running":
		return queue.Running, nil
	case "finished":
		return queue.Finished, nil
	case "failed":
		return queue.Failed, nil
	case "killed":
		return queue.Killed, nil
	default:
		return 0, fmt.Errorf("jobmatch: unknown state %q", s)
	}
}

// Parse parses a single filter expression argument. An empty string parses
// to All ("match all"), which status uses when no filter is given. Parse
// does not reject an empty expression for other callers, so kill and
// rerun given an empty filter also match every job.
func Parse(expr string) (Matcher, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return All, nil
	}
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	m, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("jobmatch: unexpected token %q", p.toks[p.pos])
	}
	return m, nil
}

func tokenize(expr string) ([]string, error) {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range expr {
		switch {
		case r == '(' || r == ')':
			flush()
			toks = append(toks, string(r))
		case r == ' ' || r == '\t':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks, nil
}

type parser struct {
	toks []string
	pos  int
}

func (p *parser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

// Grammar, lowest to highest precedence: or, and, not, atom.
func (p *parser) parseOr() (Matcher, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek(), "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orMatcher{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Matcher, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek(), "and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andMatcher{left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (Matcher, error) {
	if strings.EqualFold(p.peek(), "not") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notMatcher{inner}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Matcher, error) {
	tok := p.next()
	switch {
	case tok == "":
		return nil, fmt.Errorf("jobmatch: unexpected end of expression")
	case tok == "(":
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("jobmatch: expected closing paren")
		}
		return inner, nil
	case strings.HasPrefix(tok, "id:"):
		n, err := strconv.ParseUint(strings.TrimPrefix(tok, "id:"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("jobmatch: bad id filter %q: %w", tok, err)
		}
		return idMatcher{queue.JobId(n)}, nil
	case strings.HasPrefix(tok, "name:"):
		return nameMatcher{strings.TrimPrefix(tok, "name:")}, nil
	case strings.HasPrefix(tok, "state:"):
		kind, err := parseState(strings.TrimPrefix(tok, "state:"))
		if err != nil {
			return nil, err
		}
		return stateMatcher{kind}, nil
	default:
		return nil, fmt.Errorf("jobmatch: unrecognized filter term %q", tok)
	}
}
