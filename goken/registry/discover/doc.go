// Package discover 把注册中心的推送接入grpc的名字解析.
//
// 一个自定义的gRPC服务发现逻辑需要实现google.golang.org/grpc/resolver包中resolver.Builder和resolver.Resolver两个接口
//
// resolver.Builder负责解析target并决定如何生成resolver.Resolver实例,
// 使用时注册一个resolver.Builder,gRPC会根据target的scheme找到它来构建resolver.Resolver
//
// resolver.Resolver是具体的服务发现逻辑,这里由Resolver订阅注册中心,
// 每次推送都会把提供者展开为具体地址后整体交给grpc,提供者为空或解析失败时上报错误
package discover
