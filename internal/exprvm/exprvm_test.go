package exprvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalSrc(t *testing.T, src string, vars Vars) float64 {
	t.Helper()
	n, err := Parse(src)
	require.NoError(t, err, "Parse(%q)", src)
	v, err := Eval(n, vars)
	require.NoError(t, err, "Eval(%q)", src)
	return v
}

func TestArithmetic(t *testing.T) {
	cases := map[string]float64{
		"1 + 2 * 3":   7,
		"(1 + 2) * 3": 9,
		"10 / 4":      2.5,
		"10 % 3":      1,
		"-5 + 2":      -3,
		"2 * -3":      -6,
	}
	for src, want := range cases {
		assert.Equal(t, want, evalSrc(t, src, Vars{}), "eval(%q)", src)
	}
}

func TestDivisionByZeroYieldsZero(t *testing.T) {
	assert.Zero(t, evalSrc(t, "5 / 0", Vars{}))
	assert.Zero(t, evalSrc(t, "5 % 0", Vars{}))
}

func TestVariables(t *testing.T) {
	assert.Equal(t, float64(6), evalSrc(t, "t * 2", Vars{T: 3}))
	assert.Equal(t, float64(25), evalSrc(t, "p / 2", Vars{P: 50}))
}

func TestUnknownIdentifierRejected(t *testing.T) {
	_, err := Parse("q + 1")
	assert.Error(t, err, "expected parse error for unknown identifier q")
}

func TestUnknownFunctionRejected(t *testing.T) {
	_, err := Parse("exec(1)")
	assert.Error(t, err, "expected parse error for disallowed function exec")
}

func TestCallArityEnforced(t *testing.T) {
	_, err := Parse("sin(1, 2)")
	assert.Error(t, err, "expected arity error for sin/2")
	_, err = Parse("pow(1)")
	assert.Error(t, err, "expected arity error for pow/1")
}

func TestBuiltinFunctions(t *testing.T) {
	assert.Zero(t, evalSrc(t, "sin(0)", Vars{}))
	assert.Equal(t, float64(255), evalSrc(t, "clamp(300, 0, 255)", Vars{}))
	assert.Zero(t, evalSrc(t, "clamp_dmx(-10)", Vars{}))
	assert.Equal(t, float64(3), evalSrc(t, "min(3, 5)", Vars{}))
	assert.Equal(t, float64(5), evalSrc(t, "max(3, 5)", Vars{}))
}

func TestHSVToRGBPrimaries(t *testing.T) {
	// Pure red at h=0, full saturation and value.
	r := evalSrc(t, "hsv_to_rgb_r(0, 1, 1)", Vars{})
	g := evalSrc(t, "hsv_to_rgb_g(0, 1, 1)", Vars{})
	b := evalSrc(t, "hsv_to_rgb_b(0, 1, 1)", Vars{})
	assert.Equal(t, float64(255), r)
	assert.Zero(t, g)
	assert.Zero(t, b)

	// Pure green at h=120.
	g = evalSrc(t, "hsv_to_rgb_g(120, 1, 1)", Vars{})
	assert.InDelta(t, 255, g, 0.01)
}

func TestHSVToRGBTupleSubscript(t *testing.T) {
	n, err := Parse("hsv_to_rgb(0, 1, 1)[0]")
	require.NoError(t, err)
	v, err := Eval(n, Vars{})
	require.NoError(t, err)
	assert.Equal(t, float64(255), v)
}

func TestSubscriptIndexOutOfRangeRejectedAtParse(t *testing.T) {
	_, err := Parse("hsv_to_rgb(0,1,1)[3]")
	assert.Error(t, err)
}

func TestTupleUsedAsScalarIsError(t *testing.T) {
	n, err := Parse("hsv_to_rgb(0, 1, 1)")
	require.NoError(t, err)
	_, err = Eval(n, Vars{})
	assert.Error(t, err, "expected error evaluating a tuple expression as a plain scalar")
}

func TestTupleAsFunctionArgumentIsError(t *testing.T) {
	n, err := Parse("sin(hsv_to_rgb(0,1,1))")
	require.NoError(t, err)
	_, err = Eval(n, Vars{})
	assert.Error(t, err, "expected error passing a tuple as a scalar function argument")
}

func TestCompileCollectsPerChannelErrorsWithoutFailingOthers(t *testing.T) {
	prog, errs := Compile(map[int]string{
		1: "t * 2",
		2: "not a valid expr (((",
	})
	require.Len(t, errs, 1)
	frame := prog.EvalFrame(Vars{T: 10}, nil)
	assert.Equal(t, uint8(20), frame[1])
	assert.Zero(t, frame[2], "channel 2 failed to compile")
}

func TestEvalFrameDoesNotReportChannelsThatFailedToCompile(t *testing.T) {
	prog, errs := Compile(map[int]string{1: "5 / 0 + q"})
	_ = errs // channel 1 itself fails to parse: "q" is undefined

	var reports int
	onError := func(ch int, err error) { reports++ }

	prog.EvalFrame(Vars{}, onError)
	prog.EvalFrame(Vars{}, onError)
	// channel 1 never compiled (parse error), so it evaluates to the
	// constant 0 and EvalFrame has no evaluation error to report for it.
	assert.Zero(t, reports)

	_, errs2 := Compile(map[int]string{1: "t[5]"})
	assert.NotEmpty(t, errs2, "expected a compile error for an out-of-range literal subscript")
}

func TestDeeplyNestedExpressionRejected(t *testing.T) {
	src := ""
	for i := 0; i < 100; i++ {
		src += "("
	}
	src += "1"
	for i := 0; i < 100; i++ {
		src += ")"
	}
	_, err := Parse(src)
	assert.Error(t, err, "expected a depth-limit error for 100 levels of parenthesis nesting")
}
