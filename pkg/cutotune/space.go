package cutotune

// Param lists the candidate values of one tunable parameter.
type Param struct {
	Name   string
	Values []any
}

// Values is a convenience constructor for Param.
func Values[T any](name string, values ...T) Param {
	p := Param{Name: name, Values: make([]any, len(values))}
	for i, v := range values {
		p.Values[i] = v
	}
	return p
}

// CartesianProduct returns one Config per element of the product of the
// parameter value lists, the last parameter varying fastest. Every config
// shares cond. A parameter with no values yields an empty space.
func CartesianProduct(cond Condition, params ...Param) []Config {
	if len(params) == 0 {
		return nil
	}
	total := 1
	for _, p := range params {
		total *= len(p.Values)
	}
	if total == 0 {
		return nil
	}

	configs := make([]Config, 0, total)
	idx := make([]int, len(params))
	for range total {
		values := make(map[string]any, len(params))
		for i, p := range params {
			values[p.Name] = p.Values[idx[i]]
		}
		configs = append(configs, NewConfig(values, cond))

		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(params[i].Values) {
				break
			}
			idx[i] = 0
		}
	}
	return configs
}

// Concat joins several spaces in order.
func Concat(spaces ...[]Config) []Config {
	var out []Config
	for _, s := range spaces {
		out = append(out, s...)
	}
	return out
}
