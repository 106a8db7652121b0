// Package ctxkey reports context.WithValue calls whose key is a string,
// number or bool, including named types built on them. Keys must be values
// of a dedicated struct type, like the principal key of the auth package.
package ctxkey

import (
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

var Analyzer = &analysis.Analyzer{
	Name:     "ctxkey",
	Doc:      "requires struct typed keys in context.WithValue",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (interface{}, error) {
	ins := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	ins.Preorder([]ast.Node{(*ast.CallExpr)(nil)}, func(n ast.Node) {
		call := n.(*ast.CallExpr)
		if !isWithValue(pass, call) || len(call.Args) != 3 {
			return
		}

		keyType := pass.TypesInfo.TypeOf(call.Args[1])
		if keyType == nil {
			return
		}

		if _, basic := keyType.Underlying().(*types.Basic); basic {
			pass.Reportf(call.Args[1].Pos(), "context key of type %s may collide; use a struct type", keyType.String())
		}
	})

	return nil, nil
}

func isWithValue(pass *analysis.Pass, call *ast.CallExpr) bool {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return false
	}

	fn, ok := pass.TypesInfo.Uses[sel.Sel].(*types.Func)
	if !ok || fn.Pkg() == nil {
		return false
	}

	return fn.Pkg().Path() == "context" && fn.Name() == "WithValue"
}
