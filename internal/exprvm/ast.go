package exprvm

// Node is a parsed, immutable expression tree node.
type Node interface {
	isNode()
}

type numberNode struct{ value float64 }

type varNode struct{ name string } // "t" or "p"

type unaryNode struct {
	op    byte // '-'
	child Node
}

type binaryNode struct {
	op          byte // + - * / %
	left, right Node
}

type callNode struct {
	name string
	args []Node
}

type indexNode struct {
	child Node
	index int
}

func (numberNode) isNode() {}
func (varNode) isNode()    {}
func (unaryNode) isNode()  {}
func (binaryNode) isNode() {}
func (callNode) isNode()   {}
func (indexNode) isNode()  {}

// allowedFunctions is the closed set of callable names. Anything else is
// rejected at parse time.
var allowedFunctions = map[string]int{
	"sin": 1, "cos": 1, "tan": 1, "abs": 1, "round": 1, "sqrt": 1,
	"floor": 1, "ceil": 1, "log": 1, "exp": 1,
	"min": 2, "max": 2, "pow": 2, "mod": 2,
	"clamp":         3,
	"clamp_dmx":     1,
	"hsv_to_rgb":    3,
	"hsv_to_rgb_r":  3,
	"hsv_to_rgb_g":  3,
	"hsv_to_rgb_b":  3,
}
