// codegen 从错误码声明文件生成Coder注册代码,
// 声明文件中每个常量的注释形如 grpc错误码名:http错误码:对外信息
//
//	codegen -o ../code_out.go code_in.go
package main

import (
	"bytes"
	_ "embed"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/hkensame/kdiscovery/pkg/errors"

	"github.com/spf13/pflag"
)

//go:embed code.tmpl
var tpl string

type Code struct {
	CodeName string
	HttpCode string
	GrpcCode string
	Message  string
	CodeNum  string
}

type fileData struct {
	Source  string
	Package string
	Groups  [][]Code
}

func usage() {
	fmt.Fprintln(os.Stderr, `codegen [flags] code_in.go
	-o, --out      生成的文件路径,默认为当前目录下的code_out.go
	-p, --package  生成文件的package名称,默认使用传入文件的package`)
}

func main() {
	out := pflag.StringP("out", "o", "code_out.go", "生成的文件路径")
	pkg := pflag.StringP("package", "p", "", "生成文件的package名称")
	pflag.Usage = usage
	pflag.Parse()
	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	in := pflag.Arg(0)

	src, err := os.ReadFile(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[codegen] 读取%s失败: %v\n", in, err)
		os.Exit(1)
	}
	code, err := Generate(filepath.Base(in), src, *pkg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[codegen] %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, code, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "[codegen] 写入%s失败: %v\n", *out, err)
		os.Exit(1)
	}
}

// Generate 解析声明文件并返回格式化后的生成代码,pkg为空时沿用声明文件的package
func Generate(name string, src []byte, pkg string) ([]byte, error) {
	file, err := parser.ParseFile(token.NewFileSet(), name, src, parser.ParseComments)
	if err != nil {
		return nil, errors.Wrapf(err, "解析%s失败", name)
	}
	if pkg == "" {
		pkg = file.Name.Name
	}
	groups, err := genDecl(file.Decls)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New("code").Parse(strings.TrimSpace(tpl))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, fileData{Source: name, Package: pkg, Groups: groups}); err != nil {
		return nil, err
	}
	return format.Source(buf.Bytes())
}

// genDecl 每个const块生成一组Code,块内没有显式赋值的常量按iota依次加一
func genDecl(decls []ast.Decl) ([][]Code, error) {
	res := make([][]Code, 0)
	for _, decl := range decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.CONST {
			continue
		}
		codes := make([]Code, 0, len(gd.Specs))
		var num int
		for i, spec := range gd.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			var comment string
			if vs.Doc != nil {
				comment = vs.Doc.Text()
			} else if vs.Comment != nil {
				comment = vs.Comment.Text()
			}
			parts := strings.SplitN(strings.TrimSpace(comment), ":", 3)
			if len(parts) != 3 {
				return nil, errors.Errorf("常量%s的注释格式应为 grpc错误码:http错误码:信息", vs.Names[0].Name)
			}

			if len(vs.Values) > 0 {
				n, err := baseValue(vs.Values[0])
				if err != nil {
					return nil, errors.Wrapf(err, "常量%s", vs.Names[0].Name)
				}
				num = n
			} else if i > 0 {
				num++
			}
			if _, err := strconv.Atoi(parts[1]); err != nil {
				return nil, errors.Errorf("常量%s的http错误码%q不是数字", vs.Names[0].Name, parts[1])
			}
			codes = append(codes, Code{
				CodeName: vs.Names[0].Name,
				HttpCode: parts[1],
				GrpcCode: grpcCode(parts[0]),
				Message:  strings.TrimSpace(parts[2]),
				CodeNum:  strconv.Itoa(num),
			})
		}
		if len(codes) > 0 {
			res = append(res, codes)
		}
	}
	return res, nil
}

// 支持 1150001 与 1150001 + iota 两种写法
func baseValue(expr ast.Expr) (int, error) {
	switch t := expr.(type) {
	case *ast.BasicLit:
		return strconv.Atoi(t.Value)
	case *ast.BinaryExpr:
		return baseValue(t.X)
	}
	return 0, errors.New("无法识别的常量值")
}

// 为空时为Internal,数字按codes.Code转换,其余视为codes包下的名称
func grpcCode(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "codes.Internal"
	}
	if _, err := strconv.Atoi(s); err == nil {
		return "codes.Code(" + s + ")"
	}
	return "codes." + s
}
