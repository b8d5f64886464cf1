package log

import (
	"io"
	"os"
	"sync"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu       sync.RWMutex
	gLogger  *otelzap.Logger
	gSLogger *otelzap.SugaredLogger
)

func init() {
	gLogger = MustNewOtelLogger()
	gSLogger = gLogger.Sugar()
}

// Init 用给定的配置替换全局日志,一般在进程启动读完配置后调用一次
func Init(opt *Options) {
	l := mustNewOtelLogger(opt)
	mu.Lock()
	defer mu.Unlock()
	gLogger = l
	gSLogger = l.Sugar()
}

func MustNewOtelLogger(opts ...OptionFunc) *otelzap.Logger {
	logOpt := NewDefaultOptions()
	for _, opt := range opts {
		opt(logOpt)
	}
	return mustNewOtelLogger(logOpt)
}

func mustNewOtelLogger(logOpt *Options) *otelzap.Logger {
	log := mustNewLogger(logOpt)
	return otelzap.New(log, logOpt.OtelZapOptions...)
}

func MustNewLogger(opts ...OptionFunc) *zap.Logger {
	logOpt := NewDefaultOptions()
	for _, opt := range opts {
		opt(logOpt)
	}
	return mustNewLogger(logOpt)
}

func mustNewLogger(logOpt *Options) *zap.Logger {
	//teeFlag 用于判断是否需要将错误日志和标准日志连接(tee)起来
	teeFlag := len(logOpt.ErrorOutputPaths) != 0
	outPaths := logOpt.OutputPaths
	if len(outPaths) == 0 {
		outPaths = []string{"stdout"}
	}

	var encoderCfg zapcore.EncoderConfig
	if logOpt.Development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
	}
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if logOpt.EnableColor && logOpt.Format == ConsoleFormat {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var encoder zapcore.Encoder
	if logOpt.Format == JsonFormat {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(mustOpenSinks(outPaths)), logOpt.Level)
	if teeFlag {
		errCore := zapcore.NewCore(encoder, zapcore.AddSync(mustOpenSinks(logOpt.ErrorOutputPaths)), logOpt.ErrorLevel)
		core = zapcore.NewTee(core, errCore)
	}
	return zap.New(core, logOpt.ZapOptions...)
}

// 把多个输出路径合并为一个writer,stdout与stderr为保留名称,其余按文件追加写入
func mustOpenSinks(paths []string) io.Writer {
	writers := make([]io.Writer, 0, len(paths))
	for _, path := range paths {
		switch path {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
			if err != nil {
				panic(err)
			}
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0]
	}
	return io.MultiWriter(writers...)
}
