package config

import (
	"reflect"
	"strings"

	"github.com/hkensame/kdiscovery/pkg/errors"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

// Validator 对读入的配置结构体做校验,字段名使用mapstructure标签,
// 错误信息按locale翻译
type Validator struct {
	v     *validator.Validate
	Trans ut.Translator
}

func NewValidator(locale string) (*Validator, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	//将struct字段名转为配置文件里的key
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})

	zhT := zh.New()
	enT := en.New()
	uni := ut.New(enT, zhT, enT)
	trans, ok := uni.GetTranslator(locale)
	if !ok {
		return nil, errors.Errorf("[config] 获取%s翻译器失败", locale)
	}
	var err error
	switch locale {
	case "en":
		err = en_translations.RegisterDefaultTranslations(v, trans)
	default:
		err = zh_translations.RegisterDefaultTranslations(v, trans)
	}
	if err != nil {
		return nil, errors.Wrap(err, "[config] 注册翻译失败")
	}
	return &Validator{v: v, Trans: trans}, nil
}

// RegisterValidation 注册自定义tag,msg为校验失败时的提示,其中{0}会被替换为字段名
func (va *Validator) RegisterValidation(tag string, msg string, f validator.Func) error {
	if err := va.v.RegisterValidation(tag, f); err != nil {
		return err
	}
	return va.v.RegisterTranslation(tag, va.Trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, msg, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	)
}

// Struct 校验s,所有失败的字段合并成一个CodeIllegalUsage错误
func (va *Validator) Struct(s any) error {
	err := va.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.WithCoder(err, errors.CodeIllegalUsage, "[config] 配置校验失败")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Namespace()+": "+fe.Translate(va.Trans))
	}
	return errors.WithCode(errors.CodeIllegalUsage, "[config] 配置校验失败: %s", strings.Join(msgs, "; "))
}
