package exprvm

import (
	"fmt"
	"math"
)

// maxEvalDepth caps recursion during evaluation, independent of parse
// depth, so a cached tree can never blow the stack regardless of how it
// was produced.
const maxEvalDepth = 64

// value is either a plain scalar or a 3-tuple (the result of
// hsv_to_rgb before it is subscripted).
type value struct {
	tuple    [3]float64
	isTuple  bool
	scalar   float64
}

func scalarValue(f float64) value { return value{scalar: f} }

// Vars holds the two free variables an expression may reference.
type Vars struct {
	T float64 // seconds since scene start
	P float64 // percentage of duration, 0-100
}

// Eval evaluates a compiled expression tree, returning a finite scalar.
// Division by zero, NaN and Inf all yield 0, per the VM's no-crash
// contract; any other evaluation error also yields 0.
func Eval(n Node, vars Vars) (result float64, err error) {
	v, err := evalNode(n, vars, 0)
	if err != nil {
		return 0, err
	}
	if v.isTuple {
		return 0, fmt.Errorf("expression evaluates to a tuple; index it with [0], [1] or [2]")
	}
	f := v.scalar
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, nil
	}
	return f, nil
}

func evalNode(n Node, vars Vars, depth int) (value, error) {
	if depth > maxEvalDepth {
		return value{}, fmt.Errorf("evaluation recursion depth exceeded")
	}

	switch t := n.(type) {
	case numberNode:
		return scalarValue(t.value), nil

	case varNode:
		switch t.name {
		case "t":
			return scalarValue(vars.T), nil
		case "p":
			return scalarValue(vars.P), nil
		}
		return value{}, fmt.Errorf("unknown variable %q", t.name)

	case unaryNode:
		c, err := evalNode(t.child, vars, depth+1)
		if err != nil {
			return value{}, err
		}
		return scalarValue(-c.scalar), nil

	case binaryNode:
		l, err := evalNode(t.left, vars, depth+1)
		if err != nil {
			return value{}, err
		}
		r, err := evalNode(t.right, vars, depth+1)
		if err != nil {
			return value{}, err
		}
		return scalarValue(applyBinary(t.op, l.scalar, r.scalar)), nil

	case callNode:
		return evalCall(t, vars, depth)

	case indexNode:
		c, err := evalNode(t.child, vars, depth+1)
		if err != nil {
			return value{}, err
		}
		if !c.isTuple {
			return value{}, fmt.Errorf("subscript applied to a non-tuple expression")
		}
		return scalarValue(c.tuple[t.index]), nil
	}

	return value{}, fmt.Errorf("unsupported node type %T", n)
}

func applyBinary(op byte, l, r float64) float64 {
	switch op {
	case '+':
		return l + r
	case '-':
		return l - r
	case '*':
		return l * r
	case '/':
		if r == 0 {
			return 0
		}
		return l / r
	case '%':
		if r == 0 {
			return 0
		}
		return math.Mod(l, r)
	}
	return 0
}

func evalCall(c callNode, vars Vars, depth int) (value, error) {
	args := make([]float64, len(c.args))
	for i, a := range c.args {
		v, err := evalNode(a, vars, depth+1)
		if err != nil {
			return value{}, err
		}
		if v.isTuple {
			return value{}, fmt.Errorf("function %q received a tuple argument", c.name)
		}
		args[i] = v.scalar
	}

	switch c.name {
	case "sin":
		return scalarValue(math.Sin(args[0])), nil
	case "cos":
		return scalarValue(math.Cos(args[0])), nil
	case "tan":
		return scalarValue(math.Tan(args[0])), nil
	case "abs":
		return scalarValue(math.Abs(args[0])), nil
	case "round":
		return scalarValue(math.Round(args[0])), nil
	case "sqrt":
		return scalarValue(math.Sqrt(args[0])), nil
	case "floor":
		return scalarValue(math.Floor(args[0])), nil
	case "ceil":
		return scalarValue(math.Ceil(args[0])), nil
	case "log":
		if args[0] <= 0 {
			return scalarValue(0), nil
		}
		return scalarValue(math.Log(args[0])), nil
	case "exp":
		return scalarValue(math.Exp(args[0])), nil
	case "min":
		return scalarValue(math.Min(args[0], args[1])), nil
	case "max":
		return scalarValue(math.Max(args[0], args[1])), nil
	case "pow":
		return scalarValue(math.Pow(args[0], args[1])), nil
	case "mod":
		if args[1] == 0 {
			return scalarValue(0), nil
		}
		return scalarValue(math.Mod(args[0], args[1])), nil
	case "clamp":
		return scalarValue(clampRange(args[0], args[1], args[2])), nil
	case "clamp_dmx":
		return scalarValue(clampRange(args[0], 0, 255)), nil
	case "hsv_to_rgb":
		r, g, b := hsvToRGB(args[0], args[1], args[2])
		return value{isTuple: true, tuple: [3]float64{r, g, b}}, nil
	case "hsv_to_rgb_r":
		r, _, _ := hsvToRGB(args[0], args[1], args[2])
		return scalarValue(r), nil
	case "hsv_to_rgb_g":
		_, g, _ := hsvToRGB(args[0], args[1], args[2])
		return scalarValue(g), nil
	case "hsv_to_rgb_b":
		_, _, b := hsvToRGB(args[0], args[1], args[2])
		return scalarValue(b), nil
	}
	return value{}, fmt.Errorf("unknown function %q", c.name)
}

func clampRange(v, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// hsvToRGB converts h in degrees [0,360), s and v in [0,1] to RGB values
// in [0,255].
func hsvToRGB(h, s, v float64) (r, g, b float64) {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	s = clampRange(s, 0, 1)
	v = clampRange(v, 0, 1)

	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var rp, gp, bp float64
	switch {
	case h < 60:
		rp, gp, bp = c, x, 0
	case h < 120:
		rp, gp, bp = x, c, 0
	case h < 180:
		rp, gp, bp = 0, c, x
	case h < 240:
		rp, gp, bp = 0, x, c
	case h < 300:
		rp, gp, bp = x, 0, c
	default:
		rp, gp, bp = c, 0, x
	}

	return (rp + m) * 255, (gp + m) * 255, (bp + m) * 255
}
