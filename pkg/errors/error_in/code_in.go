package errors

//自定义的Error Code总共7位,第一位若为1则表示rpc服务错误码,为2则表示http服务错误码,
//第2-3位共同表示服务号,第4-7位共同表示一个错误码的唯一标识,
//服务标识中的10统一分配给公有的错误,15分配给服务发现与调用组件,
//注解由:符号分割为三部分,第一部分表示该错误码对应的grpc错误码的名称,第二部分为http错误码,第三部分为对外不敏感的信息,
//code_out.go中的变量与此处一一对应,修改时两边需要同步

const (
	//OK:200:OK
	CodeSuccess = 1100000 + iota
	//Internal:500:服务器内部错误
	CodeInternalError
	//Canceled:499:客户端关闭请求或连接超时
	CodeCanceled
)

const (
	//FailedPrecondition:500:组件的调用方式有误
	CodeIllegalUsage = 1150001 + iota
	//Unavailable:503:服务地址无法解析
	CodeResolutionUnavailable
	//NotFound:404:注册中心内不存在可用的服务提供者
	CodeMembershipEmpty
	//Unavailable:503:注册中心不可用
	CodeRegistryUnavailable
	//DeadlineExceeded:504:远程调用超时
	CodeInvocationTimeout
	//Unavailable:503:远程调用失败
	CodeInvocationFailure
	//ResourceExhausted:429:调用隔离池已满
	CodeIsolationRejected
	//Unavailable:503:熔断器已打开
	CodeBreakerOpen
)
