// kdiscovery 演示服务发现的两端:
// provider把自己注册到consul并提供grpc健康检查服务,
// consumer通过discovery://解析器订阅consul并周期性地以Command调用provider
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hkensame/kdiscovery/pkg/log"

	"github.com/spf13/pflag"
)

func main() {
	file := pflag.StringP("config", "c", "configs/kdiscovery.yaml", "配置文件路径")
	mode := pflag.StringP("mode", "m", "", "运行模式,provider或consumer,覆盖配置文件中的mode")
	pflag.Parse()

	if *mode != "" {
		os.Setenv("KDISCOVERY_MODE", *mode)
	}
	opts, err := LoadOptions(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[kdiscovery] 读取配置失败: %v\n", err)
		os.Exit(1)
	}
	log.Init(opts.Log)
	defer log.Flush()

	log.Infof("[kdiscovery] 以%s模式启动, service= %s, consul= %s", opts.Mode, opts.Service, opts.Consul.Address)
	if err := Run(context.Background(), opts); err != nil {
		log.Errorf("[kdiscovery] 运行出错, err= %+v", err)
		log.Flush()
		os.Exit(1)
	}
}
