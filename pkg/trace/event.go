package trace

import (
	"context"
	"net"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	gcodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/protobuf/proto"
)

const (
	// GRPCStatusCodeKey 是用于表示gRPC请求数字状态码的约定,
	GRPCStatusCodeKey = attribute.Key("rpc.grpc.status_code")
	// RPCNameKey 是传输或接收的消息的名称,
	RPCNameKey = attribute.Key("name")
	// RPCMessageTypeKey 是传输或接收的消息的类型,
	RPCMessageTypeKey = attribute.Key("message.type")
	// RPCMessageIDKey 是传输或接收的消息的标识符,
	RPCMessageIDKey = attribute.Key("message.id")
	// RPCMessageUncompressedSizeKey 是传输或接收的消息的未压缩大小,以字节为单位,
	RPCMessageUncompressedSizeKey = attribute.Key("message.uncompressed_size")

	peerAddrKey = attribute.Key("net.sock.peer.addr")
	peerPortKey = attribute.Key("net.sock.peer.port")
)

// 常见RPC属性的otel自建的语义约定
var (
	// RPCSystemGRPC 是将 gRPC 作为远程系统的语义约定,
	RPCSystemGRPC = semconv.RPCSystemKey.String("grpc")
	// RPCMessageTypeSent 是发送的RPC消息类型的语义约定,
	RPCMessageTypeSent = RPCMessageTypeKey.String("SENT")
	// RPCMessageTypeReceived 是接收的RPC消息类型的语义约定,
	RPCMessageTypeReceived = RPCMessageTypeKey.String("RECEIVED")
)

// StatusCodeAttr 返回一个表示给定gRPC状态码的attribute.KeyValue,
func StatusCodeAttr(c gcodes.Code) attribute.KeyValue {
	return GRPCStatusCodeKey.Int64(int64(c))
}

// 定义了事件的类型
const messageEvent = "message"

var (
	// MessageSent 表示已发送的消息类型,
	MessageSent = messageType(RPCMessageTypeSent)
	// MessageReceived 表示已接收的消息类型,
	MessageReceived = messageType(RPCMessageTypeReceived)
)

// messageType 是基于 attribute.KeyValue 的一个类型别名,用来表示消息类型,
type messageType attribute.KeyValue

// Event方法将一个消息类型事件添加到与传入上下文关联的span上,
// 添加的信息包含消息的id,如果消息是proto.Message类型,还会添加消息的大小
func (m messageType) Event(ctx context.Context, id int, message any) {
	span := trace.SpanFromContext(ctx)
	attrs := []attribute.KeyValue{attribute.KeyValue(m), RPCMessageIDKey.Int(id)}
	if p, ok := message.(proto.Message); ok {
		attrs = append(attrs, RPCMessageUncompressedSizeKey.Int(proto.Size(p)))
	}
	span.AddEvent(messageEvent, trace.WithAttributes(attrs...))
}

// ResolveGrpcInfo 由/package.Service/Method形式的方法名与对端地址得到span名与属性
func ResolveGrpcInfo(fullMethod, peerAddr string) (string, []attribute.KeyValue) {
	name := strings.TrimPrefix(fullMethod, "/")
	attrs := []attribute.KeyValue{RPCSystemGRPC}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		attrs = append(attrs,
			semconv.RPCServiceKey.String(name[:i]),
			semconv.RPCMethodKey.String(name[i+1:]),
		)
	}
	if host, port, err := net.SplitHostPort(peerAddr); err == nil {
		attrs = append(attrs, peerAddrKey.String(host))
		if p, err := strconv.Atoi(port); err == nil {
			attrs = append(attrs, peerPortKey.Int(p))
		}
	}
	return name, attrs
}

// PeerAddrFromCtx 取出ctx中记录的对端地址,不存在时返回空字符串
func PeerAddrFromCtx(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	return p.Addr.String()
}
