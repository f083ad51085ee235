// Package accesscontrol 提供握手阶段的 HTTP 头访问控制策略，
// 用于校验 Host / Origin 等头的值是否被允许。
package accesscontrol

// Policy 是访问控制策略的抽象。
type Policy interface {
	// Allowed 判断给定的头值是否允许与本端握手。
	Allowed(value []byte) bool
}

var _ Policy = AllowAny{}

// AllowAny 允许任何值。
type AllowAny struct{}

func (AllowAny) Allowed(_ []byte) bool {
	return true
}

var _ Policy = (*AllowList)(nil)

// AllowList 只允许列表中的值。
type AllowList struct {
	list []string
}

func NewAllowList(list ...string) *AllowList {
	return &AllowList{list: list}
}

func (a *AllowList) Allowed(value []byte) bool {
	for _, allowed := range a.list {
		if allowed == string(value) {
			return true
		}
	}
	return false
}
