package workflow

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/gocty"
)

// expressionFunctions is the complete allow-list of callable functions.
// Anything not listed here fails with "Call to unknown function".
func expressionFunctions() map[string]function.Function {
	return map[string]function.Function{
		"len": lenFunc,
		"min": minFunc,
		"max": maxFunc,
		"sum": sumFunc,
		"any": anyFunc,
		"all": allFunc,
	}
}

var lenFunc = function.New(&function.Spec{
	Description: "Returns the number of characters in a string or elements in a collection.",
	Params: []function.Parameter{
		{Name: "value", Type: cty.DynamicPseudoType},
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		v := args[0]
		if v.Type() == cty.String {
			return cty.NumberIntVal(int64(len([]rune(v.AsString())))), nil
		}
		if !v.CanIterateElements() {
			return cty.NilVal, fmt.Errorf("len: unsupported type %s", v.Type().FriendlyName())
		}
		n := 0
		for it := v.ElementIterator(); it.Next(); {
			n++
		}
		return cty.NumberIntVal(int64(n)), nil
	},
})

var minFunc = function.New(&function.Spec{
	Description: "Returns the smallest of the given numbers, or of a single list of numbers.",
	VarParam:    &function.Parameter{Name: "numbers", Type: cty.DynamicPseudoType},
	Type:        function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return pickNumber("min", args, func(candidate, best *big.Float) bool { return candidate.Cmp(best) < 0 })
	},
})

var maxFunc = function.New(&function.Spec{
	Description: "Returns the largest of the given numbers, or of a single list of numbers.",
	VarParam:    &function.Parameter{Name: "numbers", Type: cty.DynamicPseudoType},
	Type:        function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return pickNumber("max", args, func(candidate, best *big.Float) bool { return candidate.Cmp(best) > 0 })
	},
})

var sumFunc = function.New(&function.Spec{
	Description: "Returns the sum of the given numbers, or of a single list of numbers.",
	VarParam:    &function.Parameter{Name: "numbers", Type: cty.DynamicPseudoType},
	Type:        function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		nums, err := numberArgs("sum", args)
		if err != nil {
			return cty.NilVal, err
		}
		total := new(big.Float)
		for _, n := range nums {
			total.Add(total, n)
		}
		return cty.NumberVal(total), nil
	},
})

var anyFunc = function.New(&function.Spec{
	Description: "Returns true if any element of the collection is truthy.",
	Params: []function.Parameter{
		{Name: "values", Type: cty.DynamicPseudoType},
	},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		elems, err := truthyElements("any", args[0])
		if err != nil {
			return cty.NilVal, err
		}
		for _, ok := range elems {
			if ok {
				return cty.True, nil
			}
		}
		return cty.False, nil
	},
})

var allFunc = function.New(&function.Spec{
	Description: "Returns true if every element of the collection is truthy.",
	Params: []function.Parameter{
		{Name: "values", Type: cty.DynamicPseudoType},
	},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		elems, err := truthyElements("all", args[0])
		if err != nil {
			return cty.NilVal, err
		}
		for _, ok := range elems {
			if !ok {
				return cty.False, nil
			}
		}
		return cty.True, nil
	},
})

// numberArgs flattens either varargs numbers or one list of numbers
func numberArgs(name string, args []cty.Value) ([]*big.Float, error) {
	values := args
	if len(args) == 1 && args[0].Type() != cty.Number {
		if !args[0].CanIterateElements() {
			return nil, fmt.Errorf("%s: expected numbers or a list of numbers, got %s", name, args[0].Type().FriendlyName())
		}
		values = nil
		for it := args[0].ElementIterator(); it.Next(); {
			_, v := it.Element()
			values = append(values, v)
		}
	}

	nums := make([]*big.Float, 0, len(values))
	for i, v := range values {
		if v.IsNull() || !v.IsKnown() || v.Type() != cty.Number {
			return nil, fmt.Errorf("%s: element %d is not a number", name, i)
		}
		nums = append(nums, v.AsBigFloat())
	}
	return nums, nil
}

func pickNumber(name string, args []cty.Value, better func(candidate, best *big.Float) bool) (cty.Value, error) {
	nums, err := numberArgs(name, args)
	if err != nil {
		return cty.NilVal, err
	}
	if len(nums) == 0 {
		return cty.NilVal, fmt.Errorf("%s: no values", name)
	}
	best := nums[0]
	for _, n := range nums[1:] {
		if better(n, best) {
			best = n
		}
	}
	return cty.NumberVal(best), nil
}

func truthyElements(name string, v cty.Value) ([]bool, error) {
	if v.Type() == cty.String || !v.CanIterateElements() {
		return nil, fmt.Errorf("%s: expected a collection, got %s", name, v.Type().FriendlyName())
	}
	var out []bool
	for it := v.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		native, err := fromCty(elem)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, Truthy(native))
	}
	return out, nil
}

// toCty converts a native Go value into a cty.Value for the evaluation scope
func toCty(v interface{}) (cty.Value, error) {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return t, nil
	case bool:
		return cty.BoolVal(t), nil
	case string:
		return cty.StringVal(t), nil
	case int:
		return cty.NumberIntVal(int64(t)), nil
	case int32:
		return cty.NumberIntVal(int64(t)), nil
	case int64:
		return cty.NumberIntVal(t), nil
	case uint:
		return cty.NumberUIntVal(uint64(t)), nil
	case uint64:
		return cty.NumberUIntVal(t), nil
	case float32:
		return floatToCty(float64(t))
	case float64:
		return floatToCty(t)
	case json.Number:
		return cty.ParseNumberVal(t.String())
	case []interface{}:
		if len(t) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, len(t))
		for i, e := range t {
			ev, err := toCty(e)
			if err != nil {
				return cty.NilVal, fmt.Errorf("index %d: %w", i, err)
			}
			elems[i] = ev
		}
		return cty.TupleVal(elems), nil
	case []string:
		items := make([]interface{}, len(t))
		for i, s := range t {
			items[i] = s
		}
		return toCty(items)
	case map[string]interface{}:
		return objectToCty(t)
	case map[string]string:
		m := make(map[string]interface{}, len(t))
		for k, s := range t {
			m[k] = s
		}
		return objectToCty(m)
	}

	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty.Type for %T: %w", v, err)
	}
	return gocty.ToCtyValue(v, ty)
}

func objectToCty(m map[string]interface{}) (cty.Value, error) {
	if len(m) == 0 {
		return cty.EmptyObjectVal, nil
	}
	attrs := make(map[string]cty.Value, len(m))
	for k, e := range m {
		ev, err := toCty(e)
		if err != nil {
			return cty.NilVal, fmt.Errorf("in attribute '%s': %w", k, err)
		}
		attrs[k] = ev
	}
	return cty.ObjectVal(attrs), nil
}

func floatToCty(f float64) (cty.Value, error) {
	if math.IsNaN(f) {
		return cty.NilVal, fmt.Errorf("NaN is not a valid number")
	}
	return cty.NumberFloatVal(f), nil
}

// fromCty converts an evaluation result back to its natural Go counterpart.
// Integral numbers become int64, others float64. Infinities are rejected
// since no run record can hold them.
func fromCty(v cty.Value) (interface{}, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInf() {
			return nil, fmt.Errorf("result is not a finite number")
		}
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		if math.IsInf(f, 0) {
			return nil, fmt.Errorf("result %s is out of range", bf.Text('g', 10))
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		slice := make([]interface{}, 0)
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			native, err := fromCty(elem)
			if err != nil {
				return nil, err
			}
			slice = append(slice, native)
		}
		return slice, nil

	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]interface{})
		for it := v.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			native, err := fromCty(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute '%s': %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil
	}

	return nil, fmt.Errorf("unsupported result type %s", ty.FriendlyName())
}

// Truthy applies the engine's truthiness rules to an evaluated value
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	return true
}
