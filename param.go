package wsext

// Param 是协商参数，由参数名和可选的参数值组成。
// 协商双方交换的都是有序的 Param 序列，顺序只影响线上表示，不影响语义。
//
// Param 本身不做任何校验，校验是消费方的责任。
type Param struct {
	name     string
	value    string
	hasValue bool
}

// NewParam 以给定的参数名创建一个没有值的 Param。
func NewParam(name string) Param {
	return Param{name: name}
}

// NewParamWithValue 以给定的参数名和参数值创建 Param。
func NewParamWithValue(name, value string) Param {
	return Param{name: name, value: value, hasValue: true}
}

func (p Param) Name() string {
	return p.name
}

// Value 返回参数值，第二个返回值表示参数值是否存在。
func (p Param) Value() (string, bool) {
	return p.value, p.hasValue
}

// SetValue 原地替换参数值。
func (p *Param) SetValue(value string) {
	p.value = value
	p.hasValue = true
}
