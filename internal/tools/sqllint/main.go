// Command sqllint checks that every SQL string constant starts with a
// "--sql <uuid>" audit marker and that no marker is used twice. The SQL
// runner refuses queries without one, so this catches them before runtime.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	sqlKeywordPattern = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with|create)\b`)
	uuidMarkerPattern = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

func main() {
	flag.Parse()
	os.Exit(run(flag.Args(), os.Stderr))
}

func run(targets []string, stderr io.Writer) int {
	if len(targets) == 0 {
		targets = []string{"."}
	}
	l := &linter{markers: make(map[string]string)}
	for _, target := range targets {
		if err := l.lintPath(target); err != nil {
			fmt.Fprintf(stderr, "sqllint: %v\n", err)
			return 1
		}
	}
	if len(l.violations) == 0 {
		return 0
	}
	fmt.Fprintln(stderr, "sqllint: SQL audit marker problems")
	for _, v := range l.violations {
		fmt.Fprintf(stderr, "  %s:%d %s (%s)\n", v.file, v.line, v.message, v.name)
	}
	return 1
}

type linter struct {
	violations []violation
	// markers maps each marker uuid to the position that first used it.
	markers map[string]string
}

func (l *linter) lintPath(target string) error {
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if filepath.Ext(target) == ".go" {
			return l.lintFile(target)
		}
		return nil
	}
	return filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		return l.lintFile(path)
	})
}

func (l *linter) lintFile(path string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, value := range vs.Values {
			bl := leadingLiteral(value)
			if bl == nil {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil || !sqlKeywordPattern.MatchString(raw) {
				continue
			}
			pos := fset.Position(bl.Pos())
			v := violation{file: path, line: pos.Line, name: joinNames(vs.Names)}
			m := uuidMarkerPattern.FindStringSubmatch(firstLine(raw))
			if m == nil {
				if isFragment(vs.Names) {
					continue
				}
				v.message = "missing or invalid --sql <uuid> marker"
				l.violations = append(l.violations, v)
				continue
			}
			here := fmt.Sprintf("%s:%d", path, pos.Line)
			if first, dup := l.markers[m[1]]; dup {
				v.message = "marker already used at " + first
				l.violations = append(l.violations, v)
				continue
			}
			l.markers[m[1]] = here
		}
		return true
	})
	return nil
}

// leadingLiteral returns the first string literal of a constant expression,
// following the left operand of concatenations.
func leadingLiteral(expr ast.Expr) *ast.BasicLit {
	for {
		switch e := expr.(type) {
		case *ast.BasicLit:
			if e.Kind == token.STRING {
				return e
			}
			return nil
		case *ast.BinaryExpr:
			if e.Op != token.ADD {
				return nil
			}
			expr = e.X
		case *ast.ParenExpr:
			expr = e.X
		default:
			return nil
		}
	}
}

// isFragment reports whether the constant is an unexported building block,
// like a column list, rather than an executable query.
func isFragment(names []*ast.Ident) bool {
	for _, n := range names {
		if n != nil && ast.IsExported(n.Name) {
			return false
		}
	}
	return true
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident == nil {
			continue
		}
		parts = append(parts, ident.Name)
	}
	return strings.Join(parts, ",")
}
