package config

type ConfigOption func(l *Loader)

// 追加配置文件的查找目录
func WithPaths(paths ...string) ConfigOption {
	return func(l *Loader) {
		l.Paths = append(l.Paths, paths...)
	}
}

func WithEnableEnv(enable bool) ConfigOption {
	return func(l *Loader) {
		l.EnableEnv = enable
	}
}

// 设置环境变量前缀,如KDISCOVERY_COMMAND_TIMEOUT
func WithEnvPrefix(prefix string) ConfigOption {
	return func(l *Loader) {
		l.EnvPrefix = prefix
	}
}
