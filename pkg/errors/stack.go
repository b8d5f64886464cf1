package errors

import (
	"fmt"
	"path"
	"runtime"
	"strings"
)

// 记录的最大栈深度
const maxStackDepth = 32

// Frame 代表一个调用栈帧,创建时即解析文件名,行号,函数名
type Frame struct {
	function string
	file     string
	line     int
}

func newFrame(pc uintptr) Frame {
	fn := runtime.FuncForPC(pc - 1)
	if fn == nil {
		return Frame{function: "unknown", file: "unknown"}
	}
	file, line := fn.FileLine(pc - 1)
	return Frame{function: fn.Name(), file: file, line: line}
}

// Format 支持 %s %d %n %v 以及 %+s %+v
func (f Frame) Format(s fmt.State, verb rune) {
	switch verb {
	case 's':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s\n\t%s", f.function, f.file)
		} else {
			fmt.Fprint(s, path.Base(f.file))
		}
	case 'd':
		fmt.Fprint(s, f.line)
	case 'n':
		fmt.Fprint(s, funcname(f.function))
	case 'v':
		f.Format(s, 's')
		fmt.Fprint(s, ":")
		f.Format(s, 'd')
	}
}

// stack 代表调用栈
type stack []Frame

func (s *stack) Format(st fmt.State, verb rune) {
	if s == nil {
		return
	}
	if verb == 'v' && st.Flag('+') {
		for _, f := range *s {
			fmt.Fprintf(st, "%+v\n", f)
		}
	}
}

// 获取调用栈,跳过runtime.Callers,callers以及本包内的构造函数
func callers() *stack {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(3, pcs[:])

	st := make(stack, 0, n)
	for _, pc := range pcs[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		name := fn.Name()
		// 过滤掉 runtime 和 asm 相关的帧
		if strings.HasPrefix(name, "runtime.") || strings.Contains(name, "asm_") {
			continue
		}
		st = append(st, newFrame(pc))
	}
	return &st
}

// 解析函数名,去除路径前缀
func funcname(name string) string {
	if i := strings.LastIndex(name, "/"); i != -1 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i != -1 {
		name = name[i+1:]
	}
	return name
}
