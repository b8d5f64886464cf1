package errors

import (
	"encoding/json"
	"fmt"

	grpccode "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type codePayload struct {
	Code     int    `json:"code"`
	HttpCode int    `json:"http_code"`
	GrpcCode int    `json:"grpc_code"`
	Message  string `json:"message"`
}

type marshalData struct {
	CodeMsg  codePayload `json:"code_msg"`
	StackMsg string      `json:"stack_msg"`
}

func (c *withCode) marshalJSON() ([]byte, error) {
	data := marshalData{
		CodeMsg: codePayload{
			Code:     c.code.ErrorCode(),
			HttpCode: c.code.HTTPCode(),
			GrpcCode: int(c.code.GrpcCode()),
			Message:  c.Message(),
		},
		StackMsg: c.Error(),
	}
	return json.Marshal(data)
}

func (c *withCode) unmarshalJSON(data []byte) error {
	var temp marshalData
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	if temp.CodeMsg.Code == 0 {
		return New("payload中不含错误码")
	}

	c.code = &defaultCoder{
		code:     temp.CodeMsg.Code,
		httpCode: temp.CodeMsg.HttpCode,
		grpcCode: grpccode.Code(temp.CodeMsg.GrpcCode),
		message:  temp.CodeMsg.Message,
	}
	c.msg = temp.CodeMsg.Message
	c.cause = &fundamental{
		msg:   temp.StackMsg,
		stack: callers(),
	}
	return nil
}

// GRPCStatus 使带错误码的错误可以穿过grpc边界,message为json序列化后的错误码信息
func (w *withCode) GRPCStatus() *status.Status {
	msg, err := w.marshalJSON()
	if err != nil {
		// 若序列化失败,返回原始错误信息,避免 status.New 参数为空
		return status.New(w.code.GrpcCode(), fmt.Sprintf("failed to marshal error: %v", err))
	}
	return status.New(w.code.GrpcCode(), string(msg))
}

func UnmarshalCodeError(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	e := &withCode{stack: callers()}
	if err := e.unmarshalJSON(data); err != nil {
		return err
	}
	return e
}

func MarshalCodeError(err error) string {
	cerr, ok := err.(*withCode)
	if !ok {
		cerr = WithCoder(err, CodeInternalError, "").(*withCode)
	}
	data, _ := cerr.marshalJSON()
	return string(data)
}

// 从gRPC错误提取withCode结构,无法提取时原样返回
func ExtractCodeErrorFromGRPC(err error) error {
	st, ok := status.FromError(err)
	if !ok || st == nil {
		return err
	}
	if cerr := UnmarshalCodeError([]byte(st.Message())); cerr != nil && IfWithCoder(cerr) {
		return cerr
	}
	return err
}

// StatusError 把错误转换为可读的grpc status错误:
// code取自错误链上的Coder,description为错误的完整描述
func StatusError(err error) error {
	if err == nil {
		return nil
	}
	if coder := ExtractCoderFromError(err); coder != nil {
		return status.Error(coder.GrpcCode(), err.Error())
	}
	if st, ok := status.FromError(err); ok {
		return st.Err()
	}
	return status.Error(grpccode.Unknown, err.Error())
}
