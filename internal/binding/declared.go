package binding

import "fmt"

// DeclaredNames takes parameter names from the route registration. The
// declared list either names every parameter positionally or names only the
// parameters that are not a request, response or context.
type DeclaredNames struct{}

// NewDeclared returns a binder using the declared-names strategy.
func NewDeclared(opts ...Option) Binder {
	return New(DeclaredNames{}, opts...)
}

func (DeclaredNames) Strategy() string { return StrategyDeclared }

func (DeclaredNames) Names(ref MethodRef) ([]string, error) {
	ft := ref.Func.Type()
	n := ft.NumIn()
	if len(ref.Declared) == n {
		return append([]string(nil), ref.Declared...), nil
	}

	names := make([]string, n)
	next := 0
	for i := 0; i < n; i++ {
		if isSpecial(ft.In(i)) {
			continue
		}
		if next >= len(ref.Declared) {
			return nil, fmt.Errorf("%d names declared, parameter %d is unnamed", len(ref.Declared), i)
		}
		names[i] = ref.Declared[next]
		next++
	}
	if next != len(ref.Declared) {
		return nil, fmt.Errorf("%d names declared for %d bindable parameters", len(ref.Declared), next)
	}
	return names, nil
}
