package nostd

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	zhLocale "github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zhTranslations "github.com/go-playground/validator/v10/translations/zh"
	"github.com/labstack/echo/v4"
)

// CustomValidator echo请求参数校验器，错误信息翻译为中文
type CustomValidator struct {
	Validator *validator.Validate
	trans     ut.Translator
}

// TransInit 初始化中文翻译器
func (cv *CustomValidator) TransInit() error {
	zh := zhLocale.New()
	uni := ut.New(zh, zh)

	trans, ok := uni.GetTranslator("zh")
	if !ok {
		return fmt.Errorf("failed to get zh translator")
	}
	cv.trans = trans

	return zhTranslations.RegisterDefaultTranslations(cv.Validator, trans)
}

// Validate 实现 echo.Validator 接口
func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.Validator.Struct(i); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && cv.trans != nil {
			messages := make([]string, 0, len(validationErrors))
			for _, fieldError := range validationErrors {
				messages = append(messages, fieldError.Translate(cv.trans))
			}
			return echo.NewHTTPError(http.StatusBadRequest, strings.Join(messages, "; "))
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
