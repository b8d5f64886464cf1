package errors

//go:generate go run ../../cmd/codegen -o code_out.go error_in/code_in.go

import (
	"net/http"

	grpccode "google.golang.org/grpc/codes"
)

// Coder暴露出一个error code必须要的接口
type Coder interface {
	// 返回error code 映射的http code
	HTTPCode() int

	// 返回给用户的不敏感的信息
	Message() string

	// 返回error code
	ErrorCode() int

	//返回映射的RpcCode
	GrpcCode() grpccode.Code
}

type defaultCoder struct {
	code     int
	httpCode int
	grpcCode grpccode.Code
	message  string
}

func (coder *defaultCoder) ErrorCode() int {
	return coder.code
}

func (coder *defaultCoder) Message() string {
	return coder.message
}

func (coder *defaultCoder) HTTPCode() int {
	if coder.httpCode == 0 {
		return http.StatusInternalServerError
	}
	return coder.httpCode
}

func (coder *defaultCoder) GrpcCode() grpccode.Code {
	return coder.grpcCode
}

// 一组记录code的map元数据,只在init阶段写入
var codeMap = map[int]*defaultCoder{}

func mustNewCoder(code int, httpCode int, rpcCode grpccode.Code, msg string) Coder {
	if code < 1000000 || httpCode < 200 || rpcCode < grpccode.OK {
		panic(Errorf("错误的code参数,其中code为:%d,httpCode为:%d,grpcCode为:%d", code, httpCode, rpcCode))
	}
	if _, ok := codeMap[code]; ok {
		panic(Errorf("错误码%d被重复注册", code))
	}
	coder := &defaultCoder{code, httpCode, rpcCode, msg}

	codeMap[code] = coder
	return coder
}

// ParseCoder 通过数字错误码找回已注册的Coder,未注册时返回CodeInternalError
func ParseCoder(code int) Coder {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return CodeInternalError
}

// ExtractCoderFromError 返回错误链上最外层的Coder,不存在时返回nil
func ExtractCoderFromError(err error) Coder {
	var wc *withCode
	if As(err, &wc) {
		return wc.code
	}
	return nil
}

// HasCode 判断错误链上是否存在指定的错误码
func HasCode(err error, code int) bool {
	for err != nil {
		if v, ok := err.(*withCode); ok && v.code.ErrorCode() == code {
			return true
		}
		err = Unwrap(err)
	}
	return false
}

// IsCode 与HasCode相同,但直接接收Coder
func IsCode(err error, coder Coder) bool {
	if coder == nil {
		return false
	}
	return HasCode(err, coder.ErrorCode())
}

func IfWithCoder(err error) bool {
	_, ok := err.(*withCode)
	return ok
}
