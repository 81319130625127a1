package condition

import (
	"encoding/json"
	"testing"

	"github.com/varunahq/varuna/internal/probe"
)

func ctxWithBody(t *testing.T, body string) probe.Context {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatal(err)
	}
	return probe.Context{
		probe.KeyStatus:       200,
		probe.KeyResponseTime: int64(150),
		probe.KeyConnected:    true,
		probe.KeyBody:         v,
	}
}

func TestEqualityOperators(t *testing.T) {
	pctx := probe.Context{
		probe.KeyStatus:    200,
		probe.KeyConnected: true,
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"[STATUS] == 200", true},
		{"[STATUS] == '200'", true},
		{"[STATUS] == 404", false},
		{"[STATUS] != 404", true},
		{"[STATUS] != 200", false},
		{"[CONNECTED] == true", true},
		{"[CONNECTED] != true", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := Parse(tt.expr).Evaluate(pctx); got != tt.want {
				t.Fatalf("%s: expected %v, got %v", tt.expr, tt.want, got)
			}
		})
	}
}

func TestOrderingOperators(t *testing.T) {
	pctx := probe.Context{probe.KeyResponseTime: int64(150)}

	tests := []struct {
		expr string
		want bool
	}{
		{"[RESPONSE_TIME] < 500", true},
		{"[RESPONSE_TIME] < 100", false},
		{"[RESPONSE_TIME] <= 150", true},
		{"[RESPONSE_TIME] > 100", true},
		{"[RESPONSE_TIME] >= 151", false},
		{"[RESPONSE_TIME] < '500'", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := Parse(tt.expr).Evaluate(pctx); got != tt.want {
				t.Fatalf("%s: expected %v, got %v", tt.expr, tt.want, got)
			}
		})
	}
}

func TestOrderingMixedTypesIsFalse(t *testing.T) {
	pctx := probe.Context{probe.KeyBody: map[string]any{"status": "healthy"}}

	if Parse("[BODY].status > 5").Evaluate(pctx) {
		t.Fatal("ordering a non-numeric string against a number should be false")
	}
	if Parse("[BODY].status < 5").Evaluate(pctx) {
		t.Fatal("ordering a non-numeric string against a number should be false")
	}
}

func TestLexicographicOrdering(t *testing.T) {
	pctx := probe.Context{probe.KeyBody: map[string]any{"version": "abc"}}

	if !Parse("[BODY].version > 'abb'").Evaluate(pctx) {
		t.Fatal("expected lexicographic comparison to pass")
	}
	if Parse("[BODY].version > 'abd'").Evaluate(pctx) {
		t.Fatal("expected lexicographic comparison to fail")
	}
}

func TestContainsAndMatches(t *testing.T) {
	pctx := ctxWithBody(t, `{"message":"service healthy, build 42"}`)

	tests := []struct {
		expr string
		want bool
	}{
		{"[BODY].message contains 'healthy'", true},
		{"[BODY].message contains 'degraded'", false},
		{`[BODY].message matches 'build \d+'`, true},
		{`[BODY].message matches '^service'`, true},
		{`[BODY].message matches '^build'`, false},
		// A broken regex evaluates to false, not an error.
		{`[BODY].message matches '('`, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := Parse(tt.expr).Evaluate(pctx); got != tt.want {
				t.Fatalf("%s: expected %v, got %v", tt.expr, tt.want, got)
			}
		})
	}
}

func TestBodyPaths(t *testing.T) {
	pctx := ctxWithBody(t, `{"status":"ok","data":{"count":42},"items":[{"id":1},{"id":2}]}`)

	tests := []struct {
		expr string
		want bool
	}{
		{"[BODY].status == 'ok'", true},
		{"[BODY].data.count == 42", true},
		{"[BODY].items[0].id == 1", true},
		{"[BODY].items[1].id == 2", true},
		{"[BODY].missing == 'ok'", false},
		{"[BODY].data.count > 40", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := Parse(tt.expr).Evaluate(pctx); got != tt.want {
				t.Fatalf("%s: expected %v, got %v", tt.expr, tt.want, got)
			}
		})
	}
}

func TestAbsentKeyIsNull(t *testing.T) {
	pctx := probe.Context{probe.KeyConnected: false}

	exprs := []string{
		"[STATUS] == 200",
		"[STATUS] != 200",
		"[STATUS] > 100",
		"[STATUS] contains '2'",
		"[CERTIFICATE_EXPIRY_DAYS] > 14",
	}
	for _, expr := range exprs {
		if Parse(expr).Evaluate(pctx) {
			t.Fatalf("%s: comparison against an absent key must be false", expr)
		}
	}
}

func TestBareExpression(t *testing.T) {
	up := probe.Context{probe.KeyConnected: true}
	down := probe.Context{probe.KeyConnected: false}

	cond := Parse("[CONNECTED]")
	if !cond.Evaluate(up) {
		t.Fatal("bare [CONNECTED] with true should pass")
	}
	if cond.Evaluate(down) {
		t.Fatal("bare [CONNECTED] with false should fail")
	}
	if Parse("[STATUS]").Evaluate(probe.Context{probe.KeyStatus: 200}) {
		t.Fatal("bare expression must require boolean true, not truthiness")
	}
}

func TestOperatorInsideQuotes(t *testing.T) {
	pctx := ctxWithBody(t, `{"message":"a == b"}`)

	if !Parse("[BODY].message contains 'a == b'").Evaluate(pctx) {
		t.Fatal("operator inside a quoted literal must not split the expression")
	}
}

func TestOperatorOrder(t *testing.T) {
	c := Parse("[RESPONSE_TIME] >= 100")
	if c.op != ">=" {
		t.Fatalf("expected >= operator, got %q", c.op)
	}
	c = Parse("[STATUS] == 200")
	if c.op != "==" {
		t.Fatalf("expected == operator, got %q", c.op)
	}
}

func TestMalformedConditionIsFalse(t *testing.T) {
	pctx := probe.Context{probe.KeyStatus: 200}

	exprs := []string{
		"",
		"   ",
		"[STATUS].path == 200", // paths only on [BODY]
		"[BODY]??? == 1",
	}
	for _, expr := range exprs {
		if Parse(expr).Evaluate(pctx) {
			t.Fatalf("%q: malformed condition must evaluate to false", expr)
		}
	}
}

func TestHeadersLookup(t *testing.T) {
	pctx := probe.Context{
		probe.KeyHeaders: map[string]any{"Content-Type": "application/json"},
	}
	if !Parse("[HEADERS] contains 'application/json'").Evaluate(pctx) {
		t.Fatal("expected stringified headers to contain the content type")
	}
}

func TestCacheReusesParsedCondition(t *testing.T) {
	cache := NewCache()
	a := cache.Get("[STATUS] == 200")
	b := cache.Get("[STATUS] == 200")
	if a != b {
		t.Fatal("expected the same parsed condition from the cache")
	}
}

func TestEvaluateAllPreservesOrder(t *testing.T) {
	cache := NewCache()
	pctx := probe.Context{probe.KeyStatus: 200, probe.KeyResponseTime: int64(900)}

	texts := []string{"[STATUS] == 200", "[RESPONSE_TIME] < 500", "[STATUS] != 404"}
	outcomes := cache.EvaluateAll(texts, pctx)

	if len(outcomes) != len(texts) {
		t.Fatalf("expected %d outcomes, got %d", len(texts), len(outcomes))
	}
	for i, o := range outcomes {
		if o.Condition != texts[i] {
			t.Fatalf("outcome %d: expected %q, got %q", i, texts[i], o.Condition)
		}
	}
	if !outcomes[0].Passed || outcomes[1].Passed || !outcomes[2].Passed {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
}
