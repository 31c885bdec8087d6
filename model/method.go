package model

import "fmt"

// Method selects the numerical method used to solve the power flow.
type Method int

const (
	MethodNewtonRaphson Method = iota
	MethodFastDecoupledXB
	MethodFastDecoupledBX
	MethodGaussSeidel
	MethodDC
)

func (m Method) String() string {
	switch m {
	case MethodNewtonRaphson:
		return "newton-raphson"
	case MethodFastDecoupledXB:
		return "fast-decoupled-xb"
	case MethodFastDecoupledBX:
		return "fast-decoupled-bx"
	case MethodGaussSeidel:
		return "gauss-seidel"
	case MethodDC:
		return "dc"
	default:
		return "unknown"
	}
}

// ParseMethod maps a method name (as produced by String) back to its
// Method value.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "newton-raphson", "nr":
		return MethodNewtonRaphson, nil
	case "fast-decoupled-xb", "fdxb":
		return MethodFastDecoupledXB, nil
	case "fast-decoupled-bx", "fdbx":
		return MethodFastDecoupledBX, nil
	case "gauss-seidel", "gs":
		return MethodGaussSeidel, nil
	case "dc":
		return MethodDC, nil
	default:
		return 0, fmt.Errorf("unknown solve method %q", s)
	}
}

// IsAC reports whether the method produces a full AC solution
// (magnitudes and angles) as opposed to the DC angle-only approximation.
func (m Method) IsAC() bool { return m != MethodDC }
