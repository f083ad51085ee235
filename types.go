package wsext

import "github.com/gobwas/ws"

//go:generate mockgen -source=./types.go -destination=./mock/wsext.mock.go -package=wsextmock -typed

// Mode 表示扩展所处的端点角色。
// 在扩展构造时确定，之后不再变化。
type Mode uint8

const (
	ModeServer Mode = iota
	ModeClient
)

func (m Mode) String() string {
	switch m {
	case ModeServer:
		return "server"
	case ModeClient:
		return "client"
	default:
		return "unknown"
	}
}

// Extension 是 WebSocket 扩展的抽象 ( RFC 6455, section 9 )。
//
// 扩展在握手阶段参与协商，在连接建立后参与帧的编码 / 解码。
// 握手阶段的调用方式在客户端和服务端有所不同：
//
// 服务端：
//  1. 所有扩展初始为未启用状态。
//  2. 收到客户端握手请求后，对每个名字匹配的扩展调用 Configure，
//     扩展可以在内部把自己置为启用状态。
//  3. 构造响应时，每个 Enabled 返回 true 的扩展以 Name + Params
//     的形式写入响应。
//
// 客户端：
//  1. 所有扩展初始为未启用状态。
//  2. 构造握手请求时，所有扩展（无论是否启用）都以 Name + Params
//     的形式写入请求。
//  3. 收到服务端响应后，对每个名字出现在响应中的扩展调用 Configure，
//     扩展可以在内部把自己置为启用状态。
//
// 协商完成后，已启用的扩展参与后续帧处理：
// Encode 在帧发送前调用，Decode 在帧接收后调用，二者均原地修改
// 帧的 header 和 payload。调用失败后帧的状态不确定，调用方应丢弃该帧。
//
// 任何持有 Extension 的集合（如 []Extension）通过接口值透明转发
// 全部操作，不改变底层扩展的语义。
type Extension interface {
	// Name 返回扩展在协商时使用的线上名字。
	Name() string

	// Enabled 返回扩展是否已经通过协商启用。
	// 协商失败不会返回 error，调用方只能通过 Enabled 观察协商结果。
	Enabled() bool

	// Params 返回扩展当前的出站协商参数。
	Params() []Param

	// Configure 消费对端发来的协商参数并更新内部状态。
	// 成功时扩展可以把自己置为启用状态。
	Configure(params []Param) error

	// Encode 在发送前原地修改帧。
	Encode(frame *ws.Frame) error

	// Decode 在接收后原地修改帧。
	Decode(frame *ws.Frame) error

	// ReservedBits 返回扩展占用的三个保留位。
	ReservedBits() (rsv1, rsv2, rsv3 bool)

	// ReservedOpCode 返回扩展占用的保留 opcode（如果有）。
	ReservedOpCode() (ws.OpCode, bool)
}
