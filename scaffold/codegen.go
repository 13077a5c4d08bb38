package scaffold

import (
	"bytes"
	"fmt"
	"go/format"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// CodeGenerator writes Go source for a scaffolded model.
type CodeGenerator struct{}

// GenerateUseProvider returns the Go expression that builds the Options for
// siteURL. listName is included only if it is not empty.
func (CodeGenerator) GenerateUseProvider(siteURL, listName string) string {
	expr := "jellypoint.NewOptions(" + strconv.Quote(siteURL) + ")"
	if listName != "" {
		expr += ".WithListName(" + strconv.Quote(listName) + ")"
	}
	return expr
}

// GenerateFile returns a gofmt'd Go file in package pkg that declares one
// struct per table of model. Columns with no Go type are skipped.
func (cg CodeGenerator) GenerateFile(pkg string, model DatabaseModel) ([]byte, error) {
	var body bytes.Buffer
	imports := map[string]bool{}

	for _, t := range model.Tables {
		cg.writeStruct(&body, t, imports)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "// Code generated by jpctl scaffold. DO NOT EDIT.\n\npackage %s\n\n", pkg)

	if len(imports) > 0 {
		paths := make([]string, 0, len(imports))
		for p := range imports {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		out.WriteString("import (\n")
		for _, p := range paths {
			fmt.Fprintf(&out, "\t%q\n", p)
		}
		out.WriteString(")\n\n")
	}
	out.Write(body.Bytes())

	src, err := format.Source(out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format generated code: %w", err)
	}
	return src, nil
}

func (cg CodeGenerator) writeStruct(w *bytes.Buffer, t Table, imports map[string]bool) {
	name := GoName(t.Name)

	fmt.Fprintf(w, "// %s is an item of the %q list.\n", name, t.Name)
	fmt.Fprintf(w, "type %s struct {\n", name)

	used := map[string]bool{}
	for _, c := range t.Columns {
		if c.GoType == nil {
			continue
		}
		field := GoName(c.Name)
		if used[field] {
			continue
		}
		used[field] = true

		if pkgPath := c.GoType.PkgPath(); pkgPath != "" {
			imports[pkgPath] = true
		}

		typeName := c.GoType.String()
		if !c.Required && c.GoType.Kind() != reflect.Struct && c.GoType.Kind() != reflect.Array && c.Name != "ID" {
			typeName = "*" + typeName
		}
		fmt.Fprintf(w, "\t%s %s `json:%q`\n", field, typeName, c.Name+",omitempty")
	}
	w.WriteString("}\n\n")
}

// GoName turns a list or field name into an exported Go identifier.
// Characters that cannot appear in an identifier act as word breaks, and
// SharePoint's _x0020_ escape is read as a space.
func GoName(s string) string {
	s = strings.ReplaceAll(s, "_x0020_", " ")

	var sb strings.Builder
	upper := true
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			sb.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			sb.WriteRune(r)
		}
	}

	name := sb.String()
	if name == "" {
		return "X"
	}
	if unicode.IsDigit([]rune(name)[0]) {
		name = "X" + name
	}
	return name
}
