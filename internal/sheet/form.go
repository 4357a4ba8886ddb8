// internal/sheet/form.go
package sheet

import (
	"math"
	"strconv"
	"strings"
)

// FormInput 浏览器上报的一次表单变更
type FormInput struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Type    string `json:"type"`  // input 的 type 属性
	DType   string `json:"dtype"` // data-dtype 属性
	Checked bool   `json:"checked"`
}

// Coerce 按控件类型转换值：复选框为 bool，Number 为数字（无法解析时为 0，整数保持为 int），其余为字符串
func Coerce(in FormInput) any {
	if in.Type == "checkbox" {
		return in.Checked
	}
	if in.DType == "Number" {
		f, err := strconv.ParseFloat(strings.TrimSpace(in.Value), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int(f)
		}
		return f
	}
	return in.Value
}

// fields 转换为字段更新；名称为空时返回 nil
func (in FormInput) fields() map[string]any {
	if strings.TrimSpace(in.Name) == "" {
		return nil
	}
	return map[string]any{in.Name: Coerce(in)}
}
