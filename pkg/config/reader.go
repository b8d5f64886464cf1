package config

import (
	"os"
	"strings"

	"github.com/hkensame/kdiscovery/pkg/log"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Loader struct {
	//从哪些目录查找配置文件
	Paths []string
	//是否要读取环境变量中的同名配置字段并覆盖原值
	EnableEnv bool
	EnvPrefix string
	v         *viper.Viper
}

func NewLoader(opts ...ConfigOption) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}

	v := viper.New()
	if len(l.Paths) == 0 {
		path, _ := os.Getwd()
		v.AddConfigPath(path)
	}
	for _, path := range l.Paths {
		v.AddConfigPath(path)
	}
	if l.EnvPrefix != "" {
		v.SetEnvPrefix(strings.ReplaceAll(strings.ToUpper(l.EnvPrefix), "-", "_"))
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	if l.EnableEnv {
		v.AutomaticEnv()
	}
	l.v = v
	return l
}

// SetDefault 设置某个key的默认值,需在Load之前调用
func (l *Loader) SetDefault(key string, value any) {
	l.v.SetDefault(key, value)
}

// Load 读取指定路径的配置文件,文件类型由后缀决定,然后解析到data中
// data一般是已经填好默认值的结构体指针,文件中不存在的字段保持原值
func (l *Loader) Load(file string, data interface{}) error {
	l.v.SetConfigFile(file)
	if err := l.v.ReadInConfig(); err != nil {
		return err
	}
	return l.v.Unmarshal(data)
}

func (l *Loader) LoadYaml(filename string, data interface{}) error {
	l.v.SetConfigName(filename)
	l.v.SetConfigType("yaml")
	if err := l.v.ReadInConfig(); err != nil {
		return err
	}
	return l.v.Unmarshal(data)
}

// 监听配置文件是否改变,可以手动传入f来调节逻辑,f也可为nil
// 注意,若有多个配置文件被读入,则最终只能监听最后读入的文件
func (l *Loader) Watch(data interface{}, f func(e fsnotify.Event)) {
	if f == nil {
		f = func(e fsnotify.Event) {
			log.Infof("[config] 配置文件发生变动: %s", e.Name)
			if err := l.v.Unmarshal(data); err != nil {
				log.Errorf("[config] 重新加载配置文件失败: %v", err)
			}
		}
	}
	l.v.OnConfigChange(f)
	l.v.WatchConfig()
}
