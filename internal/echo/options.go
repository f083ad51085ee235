package echo

import (
	"github.com/JrMarcco/jit/bean/option"
	"github.com/JrMarcco/wsext/accesscontrol"
)

// SvrWithHostPolicy 覆盖默认的 Host 头访问控制策略。
func SvrWithHostPolicy(policy accesscontrol.Policy) option.Opt[Server] {
	return func(s *Server) {
		s.hostPolicy = policy
	}
}
