package log

import (
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ConsoleFormat = "console"
	JsonFormat    = "json"
)

type Options struct {
	OutputPaths      []string      `json:"output-paths"       mapstructure:"output-paths"`
	ErrorOutputPaths []string      `json:"error-output-paths" mapstructure:"error-output-paths"`
	Level            zapcore.Level `json:"-"                  mapstructure:"-"`
	ErrorLevel       zapcore.Level `json:"-"                  mapstructure:"-"`
	// 配置文件里的级别字符串,如"debug","warn",通过Complete写回Level
	LevelName      string `json:"level"              mapstructure:"level"`
	ErrorLevelName string `json:"error-level"        mapstructure:"error-level"`
	Format         string `json:"format"             mapstructure:"format"`
	EnableColor    bool   `json:"enable-color"       mapstructure:"enable-color"`
	Development    bool   `json:"development"        mapstructure:"development"`
	ZapOptions     []zap.Option
	OtelZapOptions []otelzap.Option
}

type OptionFunc func(o *Options)

func NewDefaultOptions() *Options {
	opts := &Options{
		Level:            zapcore.InfoLevel,
		ErrorLevel:       zapcore.ErrorLevel,
		Format:           ConsoleFormat,
		EnableColor:      false,
		OutputPaths:      []string{},
		ErrorOutputPaths: []string{},
		Development:      false,
	}
	opts.ZapOptions = append(opts.ZapOptions, zap.AddCaller(), zap.AddCallerSkip(1))
	opts.ZapOptions = append(opts.ZapOptions, zap.AddStacktrace(zap.ErrorLevel))
	return opts
}

// Complete 把从配置文件读入的字符串级别解析到Level与ErrorLevel,非法值保持原样
func (o *Options) Complete() *Options {
	if o.LevelName != "" {
		if lvl, err := zapcore.ParseLevel(o.LevelName); err == nil {
			o.Level = lvl
		}
	}
	if o.ErrorLevelName != "" {
		if lvl, err := zapcore.ParseLevel(o.ErrorLevelName); err == nil {
			o.ErrorLevel = lvl
		}
	}
	if o.Format != JsonFormat {
		o.Format = ConsoleFormat
	}
	return o
}

// 如果使用该函数且path.len>=1,则将不自动使用stdout,除非在path中添加stdout
func WithOutputPaths(path ...string) OptionFunc {
	return func(o *Options) {
		o.OutputPaths = append(o.OutputPaths, path...)
	}
}

// 设置后错误级别以上的日志会额外写入这些路径
func WithErrOutPaths(path ...string) OptionFunc {
	return func(o *Options) {
		o.ErrorOutputPaths = append(o.ErrorOutputPaths, path...)
	}
}

// 默认的Level为Info级别
func WithLevel(lvl zapcore.Level) OptionFunc {
	return func(o *Options) {
		o.Level = lvl
	}
}

func WithErrLevel(lvl zapcore.Level) OptionFunc {
	return func(o *Options) {
		o.ErrorLevel = lvl
	}
}

// 可选"console"以及"json"
func WithFormat(format string) OptionFunc {
	return func(o *Options) {
		o.Format = format
	}
}

func WithColor(on bool) OptionFunc {
	return func(o *Options) {
		o.EnableColor = on
	}
}

func WithDevelopmentLogging(on bool) OptionFunc {
	return func(o *Options) {
		o.Development = on
	}
}

func WithZapOptions(opt ...zap.Option) OptionFunc {
	return func(o *Options) {
		o.ZapOptions = append(o.ZapOptions, opt...)
	}
}

func WithOtelZapOptions(opt ...otelzap.Option) OptionFunc {
	return func(o *Options) {
		o.OtelZapOptions = append(o.OtelZapOptions, opt...)
	}
}
