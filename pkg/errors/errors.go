package errors

import (
	stderrors "errors"
	"fmt"
	"io"
)

// fundamental 记录基本错误信息
type fundamental struct {
	msg string
	*stack
}

// withStack 记录错误的堆栈信息
type withStack struct {
	msg   string
	cause error
	*stack
}

// withCode 记录错误码、消息及堆栈
type withCode struct {
	msg   string
	code  Coder
	cause error
	*stack
}

// causer 接口用于获取根本错误
type causer interface {
	Cause() error
}

// New 创建基础错误
func New(message string) error {
	return &fundamental{
		msg:   message,
		stack: callers(),
	}
}

// Errorf 创建带格式化信息的错误
func Errorf(format string, args ...interface{}) error {
	return &fundamental{
		msg:   fmt.Sprintf(format, args...),
		stack: callers(),
	}
}

// Wrap 包装错误,并添加消息
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &withStack{
		msg:   message,
		cause: err,
		stack: callers(),
	}
}

// Wrapf 包装错误,并格式化消息
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &withStack{
		msg:   fmt.Sprintf(format, args...),
		cause: err,
		stack: callers(),
	}
}

// WithCoder 为已有错误附加错误码,err为nil时返回nil
func WithCoder(err error, coder Coder, message string) error {
	if err == nil {
		return nil
	}
	return &withCode{
		msg:   message,
		code:  coder,
		cause: err,
		stack: callers(),
	}
}

// WithCode 直接创建一个带错误码的错误,格式化后的消息同时作为根因
func WithCode(coder Coder, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	st := callers()
	return &withCode{
		msg:   msg,
		code:  coder,
		cause: &fundamental{msg: coder.Message(), stack: st},
		stack: st,
	}
}

// Cause 返回最原始的错误
func Cause(err error) error {
	for err != nil {
		if cause, ok := err.(causer); ok {
			err = cause.Cause()
		} else {
			break
		}
	}
	return err
}

// Message 获取错误信息
func Message(err error) string {
	switch e := err.(type) {
	case *fundamental:
		return e.msg
	case *withStack:
		return e.msg
	case *withCode:
		return e.Message()
	default:
		return err.Error()
	}
}

// 以下三个函数转发标准库,使调用方只需引入本包
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }

// Error 实现 fundamental 的错误消息
func (f *fundamental) Error() string {
	return f.msg
}

// Format 实现 fundamental 的格式化输出
func (f *fundamental) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintln(s, f.msg)
			f.stack.Format(s, verb)
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, f.msg)
	case 'q':
		fmt.Fprintf(s, "%q", f.msg)
	}
}

func (w *withStack) Error() string {
	if w.msg == "" {
		return w.cause.Error()
	}
	return fmt.Sprintf("%s: %v", w.msg, w.cause)
}

func (w *withStack) Unwrap() error {
	return w.cause
}

func (w *withStack) Cause() error {
	return w.cause
}

func (w *withStack) Format(s fmt.State, verb rune) {
	formatWithStack(s, verb, w.Error(), w.stack)
}

func (w *withCode) Error() string {
	return fmt.Sprintf("%s: %v", w.Message(), w.cause)
}

func (w *withCode) Message() string {
	if w.msg == "" {
		return w.code.Message()
	}
	return w.msg
}

func (w *withCode) Cause() error {
	return w.cause
}

func (w *withCode) Unwrap() error {
	return w.cause
}

func (w *withCode) Format(s fmt.State, verb rune) {
	formatWithStack(s, verb, w.Error(), w.stack)
}

func formatWithStack(s fmt.State, verb rune, msg string, st *stack) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintln(s, msg)
			st.Format(s, verb)
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, msg)
	case 'q':
		fmt.Fprintf(s, "%q", msg)
	}
}
