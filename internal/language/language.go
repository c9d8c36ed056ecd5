// Package language is a thin layer over gqlparser for reading operation
// documents sent to the storefront.
package language

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// OperationOf reports the name and type of the first operation in source.
// Documents that fail to parse yield empty values.
func OperationOf(source string) (name string, op Operation) {
	doc, err := ParseQuery(source)
	if err != nil || len(doc.Operations) == 0 {
		return "", ""
	}
	first := doc.Operations[0]
	return first.Name, first.Operation
}

// Spreads returns the names of the fragments spread anywhere inside set,
// in first-seen order without duplicates.
func Spreads(set SelectionSet) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(SelectionSet)
	walk = func(ss SelectionSet) {
		for _, sel := range ss {
			switch s := sel.(type) {
			case *Field:
				walk(s.SelectionSet)
			case *InlineFragment:
				walk(s.SelectionSet)
			case *FragmentSpread:
				if !seen[s.Name] {
					seen[s.Name] = true
					out = append(out, s.Name)
				}
			}
		}
	}
	walk(set)
	return out
}
