package msl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, src string, opts Options) string {
	t.Helper()
	out, err := Run(context.Background(), src, opts)
	require.NoError(t, err)
	return out
}

func TestRunTrivialFinal(t *testing.T) {
	out := run(t, `FINAL("hello")`, Options{})
	assert.Equal(t, "hello", out)
}

func TestFinalStringifiesValues(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`FINAL(42)`, "42"},
		{`FINAL(3.5)`, "3.5"},
		{`FINAL(True)`, "True"},
		{`FINAL(None)`, "None"},
		{`FINAL([1, "a", None])`, "[1, 'a', None]"},
		{`FINAL({"k": 1})`, "{'k': 1}"},
	}
	for _, tt := range tests {
		out := run(t, tt.src, Options{})
		assert.Equal(t, tt.want, out, "source: %s", tt.src)
	}
}

func TestNoFinal(t *testing.T) {
	_, err := Run(context.Background(), `x = 1 + 2`, Options{})
	require.ErrorIs(t, err, ErrNoFinal)
	assert.Contains(t, err.Error(), "terminated without FINAL")
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{`1 + 2`, "3"},
		{`7 - 10`, "-3"},
		{`6 * 7`, "42"},
		{`7 / 2`, "3.5"},
		{`7 // 2`, "3"},
		{`-7 // 2`, "-4"},
		{`7 % 3`, "1"},
		{`-7 % 3`, "2"},
		{`2 + 3 * 4`, "14"},
		{`(2 + 3) * 4`, "20"},
		{`1.5 + 1`, "2.5"},
		{`-5`, "-5"},
	}
	for _, tt := range tests {
		out := run(t, fmt.Sprintf("FINAL(%s)", tt.expr), Options{})
		assert.Equal(t, tt.want, out, "expr: %s", tt.expr)
	}
}

func TestDivisionByZero(t *testing.T) {
	_, err := Run(context.Background(), `FINAL(1 / 0)`, Options{})
	var rte *RuntimeError
	require.ErrorAs(t, err, &rte)
	assert.Contains(t, rte.Msg, "division by zero")
}

func TestStringOps(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{`"ab" + "cd"`, "abcd"},
		{`"ab" * 3`, "ababab"},
		{`"hello world".upper()`, "HELLO WORLD"},
		{`"  pad  ".strip()`, "pad"},
		{`"a,b,c".split(",")[1]`, "b"},
		{`"-".join(["x", "y"])`, "x-y"},
		{`"hello".replace("l", "L")`, "heLLo"},
		{`"hello".find("ll")`, "2"},
		{`"hello".startswith("he")`, "True"},
		{`"hello".endswith("lo")`, "True"},
		{`"hello"[1]`, "e"},
		{`"hello"[-1]`, "o"},
		{`"hello"[1:3]`, "el"},
		{`"hello"[:2]`, "he"},
		{`"hello"[2:]`, "llo"},
		{`"hello"[-3:]`, "llo"},
		{`len("hello")`, "5"},
	}
	for _, tt := range tests {
		out := run(t, fmt.Sprintf("FINAL(%s)", tt.expr), Options{})
		assert.Equal(t, tt.want, out, "expr: %s", tt.expr)
	}
}

func TestFStrings(t *testing.T) {
	src := `
name = "world"
n = 3
FINAL(f"hello {name}, {n + 1} times")
`
	assert.Equal(t, "hello world, 4 times", run(t, src, Options{}))
}

func TestFStringFormatSpecIgnored(t *testing.T) {
	out := run(t, `FINAL(f"{3.14159:.2f}")`, Options{})
	assert.Equal(t, "3.14159", out)
}

func TestFStringBraceEscapes(t *testing.T) {
	out := run(t, `FINAL(f"{{literal}} {1+1}")`, Options{})
	assert.Equal(t, "{literal} 2", out)
}

func TestListOps(t *testing.T) {
	src := `
xs = [1, 2, 3]
xs.append(4)
xs[0] = 10
FINAL(xs)
`
	assert.Equal(t, "[10, 2, 3, 4]", run(t, src, Options{}))
}

func TestListComprehension(t *testing.T) {
	out := run(t, `FINAL([x * x for x in range(5) if x % 2 == 1])`, Options{})
	assert.Equal(t, "[1, 9]", out)
}

func TestDictOps(t *testing.T) {
	src := `
d = {"a": 1}
d["b"] = 2
total = 0
for k in d.keys():
    total += d[k]
FINAL(f"{total} {d.get('missing', 'none')} {len(d)}")
`
	assert.Equal(t, "3 none 2", run(t, src, Options{}))
}

func TestDictItemsUnpack(t *testing.T) {
	src := `
d = {"a": 1, "b": 2}
parts = []
for k, v in d.items():
    parts.append(f"{k}={v}")
FINAL(",".join(parts))
`
	assert.Equal(t, "a=1,b=2", run(t, src, Options{}))
}

func TestControlFlow(t *testing.T) {
	src := `
total = 0
i = 0
while True:
    i += 1
    if i > 10:
        break
    if i % 2 == 0:
        continue
    total += i
FINAL(total)
`
	assert.Equal(t, "25", run(t, src, Options{}))
}

func TestElifChain(t *testing.T) {
	src := `
def grade(n):
    if n >= 90:
        return "A"
    elif n >= 80:
        return "B"
    else:
        return "C"
FINAL(grade(85) + grade(95) + grade(10))
`
	assert.Equal(t, "BAC", run(t, src, Options{}))
}

func TestUserFunctions(t *testing.T) {
	src := `
def fib(n):
    if n < 2:
        return n
    return fib(n - 1) + fib(n - 2)
FINAL(fib(10))
`
	assert.Equal(t, "55", run(t, src, Options{}))
}

func TestMaxCallDepth(t *testing.T) {
	src := `
def loop(n):
    return loop(n + 1)
FINAL(loop(0))
`
	_, err := Run(context.Background(), src, Options{})
	var rte *RuntimeError
	require.ErrorAs(t, err, &rte)
	assert.Contains(t, rte.Msg, "call depth")
}

func TestBuiltins(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{`sum([1, 2, 3])`, "6"},
		{`min([3, 1, 2])`, "1"},
		{`max(3, 1, 2)`, "3"},
		{`sorted([3, 1, 2])`, "[1, 2, 3]"},
		{`sorted(["b", "a"])`, "['a', 'b']"},
		{`list(range(3))`, "[0, 1, 2]"},
		{`list(range(1, 7, 2))`, "[1, 3, 5]"},
		{`enumerate(["a", "b"])`, "[[0, 'a'], [1, 'b']]"},
		{`int("42")`, "42"},
		{`int(3.9)`, "3"},
		{`float("2.5")`, "2.5"},
		{`str(42)`, "42"},
		{`bool([])`, "False"},
		{`bool("x")`, "True"},
	}
	for _, tt := range tests {
		out := run(t, fmt.Sprintf("FINAL(%s)", tt.expr), Options{})
		assert.Equal(t, tt.want, out, "expr: %s", tt.expr)
	}
}

func TestMembership(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{`2 in [1, 2, 3]`, "True"},
		{`5 not in [1, 2, 3]`, "True"},
		{`"ell" in "hello"`, "True"},
		{`"k" in {"k": 1}`, "True"},
		{`"x" in {"k": 1}`, "False"},
	}
	for _, tt := range tests {
		out := run(t, fmt.Sprintf("FINAL(%s)", tt.expr), Options{})
		assert.Equal(t, tt.want, out, "expr: %s", tt.expr)
	}
}

func TestChainedComparison(t *testing.T) {
	out := run(t, `FINAL(1 < 2 <= 2 < 5)`, Options{})
	assert.Equal(t, "True", out)
}

func TestTernaryAndBoolOps(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{`"yes" if 1 < 2 else "no"`, "yes"},
		{`"" or "fallback"`, "fallback"},
		{`"a" and "b"`, "b"},
		{`not []`, "True"},
	}
	for _, tt := range tests {
		out := run(t, fmt.Sprintf("FINAL(%s)", tt.expr), Options{})
		assert.Equal(t, tt.want, out, "expr: %s", tt.expr)
	}
}

func TestContextBinding(t *testing.T) {
	src := `
half = len(context) // 2
FINAL(context[:half])
`
	out := run(t, src, Options{Context: "abcdef"})
	assert.Equal(t, "abc", out)
}

func TestMemoryMutationPersists(t *testing.T) {
	mem := NewDict()
	mem.Set("count", int64(1))
	src := `
memory["count"] += 1
memory["seen"] = True
FINAL(memory["count"])
`
	out := run(t, src, Options{Memory: mem})
	assert.Equal(t, "2", out)

	count, ok := mem.Get("count")
	require.True(t, ok)
	assert.Equal(t, int64(2), count)
	seen, ok := mem.Get("seen")
	require.True(t, ok)
	assert.Equal(t, true, seen)
}

func TestLLMQuery(t *testing.T) {
	var prompts []string
	opts := Options{
		Context: "one two three",
		Query: func(prompt string) (string, error) {
			prompts = append(prompts, prompt)
			return fmt.Sprintf("answer-%d", len(prompts)), nil
		},
	}
	src := `
words = context.split(" ")
answers = [llm_query(f"define {w}") for w in words]
FINAL(", ".join(answers))
`
	out := run(t, src, opts)
	assert.Equal(t, "answer-1, answer-2, answer-3", out)
	assert.Equal(t, []string{"define one", "define two", "define three"}, prompts)
}

func TestLLMQueryErrorAborts(t *testing.T) {
	boom := errors.New("provider unavailable")
	opts := Options{
		Query: func(string) (string, error) { return "", boom },
	}
	src := `
x = llm_query("anything")
FINAL(x)
`
	_, err := Run(context.Background(), src, opts)
	require.ErrorIs(t, err, boom)
}

func TestForbiddenNames(t *testing.T) {
	for _, src := range []string{
		`import os`,
		`from json import loads`,
		`open("/etc/passwd")`,
		`eval("1+1")`,
		`exec("x = 1")`,
		`__import__("os")`,
		`print("hi")`,
	} {
		_, err := Run(context.Background(), src, Options{})
		var v *ViolationError
		require.ErrorAs(t, err, &v, "source: %s", src)
	}
}

func TestViolationNamesOffender(t *testing.T) {
	_, err := Run(context.Background(), `import os`, Options{})
	var v *ViolationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "os", v.Name)
}

func TestUnknownAttributeIsViolation(t *testing.T) {
	_, err := Run(context.Background(), `FINAL("x".encode())`, Options{})
	var v *ViolationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "encode", v.Name)
}

func TestSyntaxErrors(t *testing.T) {
	for _, src := range []string{
		"x = ",
		"if True\n    pass",
		`x = "unterminated`,
		"def f(:\n    pass",
	} {
		_, err := Run(context.Background(), src, Options{})
		var se *SyntaxError
		require.ErrorAs(t, err, &se, "source: %q", src)
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`FINAL([1, 2][5])`, "index out of range"},
		{`FINAL({"a": 1}["b"])`, "key not found"},
		{`FINAL(1 + "x")`, "unsupported operand"},
		{`FINAL(len(42))`, "no len"},
	}
	for _, tt := range tests {
		_, err := Run(context.Background(), tt.src, Options{})
		var rte *RuntimeError
		require.ErrorAs(t, err, &rte, "source: %s", tt.src)
		assert.Contains(t, rte.Msg, tt.want)
	}
}

func TestDeadlineStopsInfiniteLoop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	src := `
i = 0
while True:
    i += 1
FINAL(i)
`
	start := time.Now()
	_, err := Run(ctx, src, Options{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDeadlineChecksBeforeQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	opts := Options{Query: func(string) (string, error) {
		called = true
		return "never", nil
	}}
	_, err := Run(ctx, `FINAL(llm_query("x"))`, Options{Query: opts.Query})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestTupleAssignment(t *testing.T) {
	src := `
a, b = [1, 2]
a, b = b, a
FINAL(f"{a} {b}")
`
	assert.Equal(t, "2 1", run(t, src, Options{}))
}

func TestTripleQuotedString(t *testing.T) {
	src := `
text = """line one
line two"""
FINAL(len(text.split("\n")))
`
	assert.Equal(t, "2", run(t, src, Options{}))
}

func TestMapReduceShape(t *testing.T) {
	// The canonical generated-program shape: chunk, map over chunks with
	// llm_query, reduce with a final query.
	calls := 0
	opts := Options{
		Context: strings.Repeat("x", 100),
		Query: func(prompt string) (string, error) {
			calls++
			if strings.HasPrefix(prompt, "summarize:") {
				return fmt.Sprintf("part%d", calls), nil
			}
			return "combined", nil
		},
	}
	src := `
chunk_size = 40
chunks = []
i = 0
while i < len(context):
    chunks.append(context[i:i + chunk_size])
    i += chunk_size
partials = [llm_query(f"summarize: {c}") for c in chunks]
FINAL(llm_query("combine: " + ", ".join(partials)))
`
	out, err := Run(context.Background(), src, opts)
	require.NoError(t, err)
	assert.Equal(t, "combined", out)
	assert.Equal(t, 4, calls)
}

func TestNestedDataFromJSON(t *testing.T) {
	mem := FromJSONMap(map[string]any{
		"facts": []any{"a", "b"},
		"count": float64(2),
	})
	src := `
memory["facts"].append("c")
memory["count"] += 1
FINAL(memory["count"])
`
	out := run(t, src, Options{Memory: mem})
	assert.Equal(t, "3", out)

	back := ToJSONMap(mem)
	assert.Equal(t, []any{"a", "b", "c"}, back["facts"])
	assert.Equal(t, int64(3), back["count"])
}
