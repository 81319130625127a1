package condition

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/varunahq/varuna/internal/probe"
)

// Operators in match order. Longer forms come before their prefixes
// so ">" never eats ">=".
var operators = []string{"==", "!=", ">=", "<=", ">", "<", "contains", "matches"}

// Condition is one parsed boolean expression over a probe context.
// Parsing happens once per condition text; evaluation walks the AST.
// A condition that fails to parse evaluates to false, never errors.
type Condition struct {
	Text string

	op       string
	lhs, rhs *operand // rhs is nil for a bare expression
	invalid  bool
}

// Outcome pairs a condition text with its result, preserving the
// monitor's condition order.
type Outcome struct {
	Condition string `json:"condition"`
	Passed    bool   `json:"passed"`
}

type operand struct {
	placeholder bool
	key         string
	path        *gojq.Code // compiled [BODY] path, nil when absent
	lit         any
	invalid     bool
}

// Parse builds the AST for one condition. It never fails; malformed
// input yields a condition that always evaluates to false.
func Parse(text string) *Condition {
	c := &Condition{Text: text}
	s := strings.TrimSpace(text)
	if s == "" {
		c.invalid = true
		return c
	}

	op, idx := findOperator(s)
	if op == "" {
		c.lhs = parseOperand(s)
		c.invalid = c.lhs.invalid
		return c
	}

	c.op = op
	c.lhs = parseOperand(strings.TrimSpace(s[:idx]))
	c.rhs = parseOperand(strings.TrimSpace(s[idx+len(op):]))
	if c.lhs.invalid || c.rhs.invalid {
		c.invalid = true
	}
	return c
}

// findOperator locates the first operator occurrence outside quotes,
// trying operators in declaration order.
func findOperator(s string) (string, int) {
	for _, op := range operators {
		if idx := indexOutsideQuotes(s, op); idx >= 0 {
			// Word operators need surrounding whitespace so a field
			// named "matches" is not split.
			if op == "contains" || op == "matches" {
				before := idx == 0 || s[idx-1] == ' '
				after := idx+len(op) == len(s) || s[idx+len(op)] == ' '
				if !before || !after {
					continue
				}
			}
			return op, idx
		}
	}
	return "", -1
}

func indexOutsideQuotes(s, sub string) int {
	var inSingle, inDouble bool
	for i := 0; i+len(sub) <= len(s); i++ {
		switch s[i] {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		}
		if inSingle || inDouble {
			continue
		}
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func parseOperand(s string) *operand {
	if strings.HasPrefix(s, "[") {
		if end := strings.IndexByte(s, ']'); end > 1 {
			key := s[1:end]
			if isPlaceholderKey(key) {
				o := &operand{placeholder: true, key: key}
				rest := s[end+1:]
				if rest == "" {
					return o
				}
				// Only [BODY] takes a path suffix.
				if key != probe.KeyBody {
					o.invalid = true
					return o
				}
				o.path = compilePath(rest)
				o.invalid = o.path == nil
				return o
			}
		}
	}
	return &operand{lit: parseLiteral(s)}
}

func isPlaceholderKey(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < 'A' || c > 'Z') && c != '_' {
			return false
		}
	}
	return true
}

// compilePath turns the suffix after [BODY] into a gojq program, e.g.
// ".status" or "[0].name".
func compilePath(rest string) *gojq.Code {
	src := rest
	if strings.HasPrefix(src, "[") {
		src = "." + src
	}
	if !strings.HasPrefix(src, ".") {
		return nil
	}
	query, err := gojq.Parse(src)
	if err != nil {
		return nil
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil
	}
	return code
}

// parseLiteral accepts JSON values, single-quoted strings, and bare
// words (as string literals).
func parseLiteral(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}

// Evaluate reduces the condition against a probe context. Absent keys
// and unmatched paths read as null and fail every comparison. Any
// evaluation fault yields false.
func (c *Condition) Evaluate(pctx probe.Context) (passed bool) {
	defer func() {
		if recover() != nil {
			passed = false
		}
	}()

	if c.invalid {
		return false
	}

	left, leftOK := c.lhs.resolve(pctx)

	if c.rhs == nil {
		return leftOK && left == true
	}

	right, rightOK := c.rhs.resolve(pctx)
	if !leftOK || !rightOK || left == nil || right == nil {
		return false
	}

	switch c.op {
	case "==":
		return looseEqual(left, right)
	case "!=":
		return !looseEqual(left, right)
	case ">", ">=", "<", "<=":
		return ordered(c.op, left, right)
	case "contains":
		return strings.Contains(stringify(left), stringify(right))
	case "matches":
		re, err := regexp.Compile(stringify(right))
		if err != nil {
			return false
		}
		return re.MatchString(stringify(left))
	}
	return false
}

func (o *operand) resolve(pctx probe.Context) (any, bool) {
	if !o.placeholder {
		return o.lit, true
	}
	v, ok := pctx.Get(o.key)
	if !ok {
		return nil, false
	}
	if o.path == nil {
		return v, true
	}
	iter := o.path.Run(v)
	out, ok := iter.Next()
	if !ok {
		return nil, false
	}
	if _, isErr := out.(error); isErr {
		return nil, false
	}
	if out == nil {
		return nil, false
	}
	return out, true
}

// looseEqual coerces numeric strings and bools to numbers before
// comparing, so "200" == 200 and [CONNECTED] == true hold.
func looseEqual(a, b any) bool {
	na, aNum := toNumber(a)
	nb, bNum := toNumber(b)
	if aNum && bNum {
		return na == nb
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return as == bs
	}
	return stringify(a) == stringify(b)
}

func ordered(op string, a, b any) bool {
	na, aNum := toNumber(a)
	nb, bNum := toNumber(b)
	if aNum && bNum {
		switch op {
		case ">":
			return na > nb
		case ">=":
			return na >= nb
		case "<":
			return na < nb
		case "<=":
			return na <= nb
		}
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		switch op {
		case ">":
			return as > bs
		case ">=":
			return as >= bs
		case "<":
			return as < bs
		case "<=":
			return as <= bs
		}
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return "null"
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Cache parses each distinct condition text once and reuses the AST
// across checks.
type Cache struct {
	mu     sync.RWMutex
	parsed map[string]*Condition
}

func NewCache() *Cache {
	return &Cache{parsed: make(map[string]*Condition)}
}

func (c *Cache) Get(text string) *Condition {
	c.mu.RLock()
	cond, ok := c.parsed[text]
	c.mu.RUnlock()
	if ok {
		return cond
	}

	cond = Parse(text)
	c.mu.Lock()
	c.parsed[text] = cond
	c.mu.Unlock()
	return cond
}

// EvaluateAll evaluates every condition in order against the context.
func (c *Cache) EvaluateAll(texts []string, pctx probe.Context) []Outcome {
	outcomes := make([]Outcome, 0, len(texts))
	for _, text := range texts {
		outcomes = append(outcomes, Outcome{
			Condition: text,
			Passed:    c.Get(text).Evaluate(pctx),
		})
	}
	return outcomes
}
