package errors

import (
	"strings"
)

// ErrorGroup 表示一个包含多个错误的对象,但这些错误不一定具有单一的语义意义,
// 可以使用 errors.Is 来检查是否存在特定类型的错误,
// 不支持 errors.As,因为多个错误并不总是具有单一的类型
type ErrorGroup interface {
	error
	Errors() []error
	Is(error) bool
}

// NewErrorGroup 将一组错误转换为一个ErrorGroup,
// 输入为空或全部为nil时返回nil,以避免在调用Error()时发生nil指针panic
func NewErrorGroup(errlist []error) ErrorGroup {
	var errs []error
	for _, e := range errlist {
		if e != nil {
			errs = append(errs, e)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errorGroup(errs)
}

type errorGroup []error

func (agg errorGroup) Error() string {
	if len(agg) == 1 {
		return agg[0].Error()
	}
	seen := make(map[string]struct{}, len(agg))
	msgs := make([]string, 0, len(agg))
	agg.visit(func(err error) bool {
		msg := err.Error()
		if _, ok := seen[msg]; ok {
			return false
		}
		seen[msg] = struct{}{}
		msgs = append(msgs, msg)
		return false
	})
	if len(msgs) == 1 {
		return msgs[0]
	}
	return "[" + strings.Join(msgs, ", ") + "]"
}

func (agg errorGroup) Is(target error) bool {
	return agg.visit(func(err error) bool {
		return Is(err, target)
	})
}

func (agg errorGroup) visit(f func(err error) bool) bool {
	for _, err := range agg {
		switch err := err.(type) {
		case errorGroup:
			if match := err.visit(f); match {
				return match
			}
		case ErrorGroup:
			for _, nestedErr := range err.Errors() {
				if match := f(nestedErr); match {
					return match
				}
			}
		default:
			if match := f(err); match {
				return match
			}
		}
	}
	return false
}

func (agg errorGroup) Errors() []error {
	return []error(agg)
}

// Reduce 将返回 err,或者,如果 err 是一个 ErrorGroup 且只有一个元素,
// 则返回 ErrorGroup 中的第一个元素
func Reduce(err error) error {
	if agg, ok := err.(ErrorGroup); ok && err != nil {
		switch len(agg.Errors()) {
		case 1:
			return agg.Errors()[0]
		case 0:
			return nil
		}
	}
	return err
}
