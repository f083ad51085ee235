// Package deflate 实现 permessage-deflate 压缩扩展 ( RFC 7692 )。
package deflate

import (
	"strconv"

	"github.com/JrMarcco/jit/bean/option"
	"github.com/JrMarcco/wsext"
	"github.com/JrMarcco/wsext/internal/pkg/xflate"
	"github.com/gobwas/ws"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ExtensionName 是扩展在 Sec-WebSocket-Extensions 头中的线上名字。
const ExtensionName = "permessage-deflate"

const (
	serverNoContextTakeover = "server_no_context_takeover"
	serverMaxWindowBits     = "server_max_window_bits"
	clientNoContextTakeover = "client_no_context_takeover"
	clientMaxWindowBits     = "client_max_window_bits"
)

const (
	// 默认窗口大小为 15 bits，即 32 KiB。
	defaultWindowBits = 15
	// 默认使用最快的压缩级别。
	defaultLevel = 1
	// 默认解压缓冲上限 256 MiB。
	defaultMaxBufferSize = 256 * 1024 * 1024
	// 默认缓冲增长步长 4 KiB。
	defaultGrowBufferSize = 4096
)

var (
	// ErrMissingTrailer 表示压缩引擎没有产出预期的 00 00 FF FF 结尾。
	ErrMissingTrailer = xflate.ErrMissingTrailer
	// ErrExceededBufferLimit 表示解压输出超过了配置的缓冲上限。
	ErrExceededBufferLimit = xflate.ErrExceededBufferLimit
)

var _ wsext.Extension = (*Deflate)(nil)

// Deflate 是 permessage-deflate 扩展的实现。
//
// 一个 Deflate 实例归一个连接端点独占，内部不做同步，
// Configure / Encode / Decode 由持有连接的一方串行调用。
type Deflate struct {
	mode    wsext.Mode
	enabled bool

	params []wsext.Param

	level int

	// 双方承诺使用的 LZ77 窗口大小 ( log2 )，
	// 协商后始终在 [9,15] 之间。
	ourMaxWindowBits   int
	theirMaxWindowBits int

	noOurContextTakeover   bool
	noTheirContextTakeover bool

	// awaitLastFragment 为 true 表示已经看到一条压缩消息的
	// 首个非终结分片，正在等待对应的终结分片。
	awaitLastFragment bool

	maxBufferSize  int
	growBufferSize int

	// buffer 是跨 Encode / Decode 调用复用的 scratch 缓冲，
	// 内容只在单次调用期间有效。
	buffer []byte

	encoder *xflate.Writer
	decoder *xflate.Reader

	logger *zap.Logger
}

// New 创建一个客户端或服务端的 deflate 扩展，初始为未启用状态。
func New(mode wsext.Mode, opts ...option.Opt[Deflate]) *Deflate {
	d := &Deflate{
		mode:               mode,
		level:              defaultLevel,
		ourMaxWindowBits:   defaultWindowBits,
		theirMaxWindowBits: defaultWindowBits,
		maxBufferSize:      defaultMaxBufferSize,
		growBufferSize:     defaultGrowBufferSize,
		logger:             zap.NewNop(),
	}

	if mode == wsext.ModeClient {
		d.params = []wsext.Param{
			wsext.NewParam(serverNoContextTakeover),
			wsext.NewParam(clientNoContextTakeover),
			wsext.NewParam(clientMaxWindowBits),
		}
	}

	option.Apply(d, opts...)
	return d
}

func (d *Deflate) Name() string {
	return ExtensionName
}

func (d *Deflate) Enabled() bool {
	return d.enabled
}

func (d *Deflate) Params() []wsext.Param {
	return d.params
}

// ReservedBits 返回扩展占用的保留位，permessage-deflate 只占用 rsv1。
func (d *Deflate) ReservedBits() (bool, bool, bool) {
	return true, false, false
}

func (d *Deflate) ReservedOpCode() (ws.OpCode, bool) {
	return 0, false
}

// SetMaxServerWindowBits 设置客户端 offer 中服务端的最大窗口大小。
//
// max 必须在 [9,15] 之间，且扩展必须是客户端模式。
// 该参数限制服务端压缩消息时使用的 LZ77 窗口大小，
// 服务端在响应中以相同或更小的值接受。
func (d *Deflate) SetMaxServerWindowBits(max int) {
	if d.mode != wsext.ModeClient {
		panic("deflate: setting max server window bits requires client mode")
	}
	if max <= 8 || max > 15 {
		panic("deflate: max server window bits must be within [9, 15]")
	}

	d.theirMaxWindowBits = max
	d.params = append(d.params, wsext.NewParamWithValue(serverMaxWindowBits, strconv.Itoa(max)))
}

// SetMaxClientWindowBits 设置客户端 offer 中客户端自己的最大窗口大小。
//
// max 必须在 [9,15] 之间，且扩展必须是客户端模式。
// 该参数告知服务端：即使响应中没有 client_max_window_bits 参数，
// 客户端也不会使用超过该值的 LZ77 窗口；服务端可以在响应中进一步缩小。
func (d *Deflate) SetMaxClientWindowBits(max int) {
	if d.mode != wsext.ModeClient {
		panic("deflate: setting max client window bits requires client mode")
	}
	if max <= 8 || max > 15 {
		panic("deflate: max client window bits must be within [9, 15]")
	}

	d.ourMaxWindowBits = max
	for i := range d.params {
		if d.params[i].Name() == clientMaxWindowBits {
			d.params[i].SetValue(strconv.Itoa(max))
			return
		}
	}
	d.params = append(d.params, wsext.NewParamWithValue(clientMaxWindowBits, strconv.Itoa(max)))
}

// SetMaxBufferSize 设置解压缓冲上限，解压输出超过上限的消息会解码失败。
func (d *Deflate) SetMaxBufferSize(size int) {
	d.maxBufferSize = size
}

// SetGrowBufferSize 设置解压缓冲的增长步长。
func (d *Deflate) SetGrowBufferSize(size int) {
	d.growBufferSize = size
}

// SetCompressionLevel 设置压缩级别，范围 0 ( 不压缩 ) 到 9 ( 最高压缩比 )。
// 默认是 1 ( 最快 )。
func (d *Deflate) SetCompressionLevel(level int) {
	if level < 0 || level > 9 {
		panic("deflate: compression level must be within [0, 9]")
	}
	d.level = level
}

// Configure 消费对端发来的协商参数，是协商的唯一入口。
//
// 协商的软失败（未知参数名、不合法的参数值）不返回 error，
// 扩展保持未启用状态，调用方通过 Enabled 观察协商结果。
// 全部参数消费成功后扩展启用，并按最终确定的窗口大小重建压缩 / 解压引擎。
func (d *Deflate) Configure(params []wsext.Param) error {
	switch d.mode {
	case wsext.ModeServer:
		// 服务端在扫描 offer 的同时重建自己的应答参数。
		d.params = d.params[:0]

		for _, p := range params {
			d.logger.Debug(
				"[wsext-deflate] configure server",
				zap.String("param", p.Name()),
			)

			switch p.Name() {
			case clientMaxWindowBits:
				if !d.setTheirMaxWindowBits(p, 0) {
					// 按 RFC 7692 的回退规则按原样接受客户端的 offer，
					// 不应答该参数也不启用扩展。
					return nil
				}
			case serverMaxWindowBits:
				bits, ok := windowBitsValue(p)
				if !ok {
					d.logger.Debug(
						"[wsext-deflate] invalid server_max_window_bits",
						zap.String("param", p.Name()),
					)
					return nil
				}
				// RFC 允许 8 到 15，但 flate 引擎只支持 9 到 15。
				if bits < 9 || bits > 15 {
					d.logger.Debug(
						"[wsext-deflate] unacceptable server_max_window_bits",
						zap.Int("bits", bits),
					)
					return nil
				}
				d.params = append(d.params, wsext.NewParamWithValue(serverMaxWindowBits, strconv.Itoa(bits)))
				d.ourMaxWindowBits = bits
			case clientNoContextTakeover:
				d.params = append(d.params, wsext.NewParam(clientNoContextTakeover))
				d.noTheirContextTakeover = true
			case serverNoContextTakeover:
				d.params = append(d.params, wsext.NewParam(serverNoContextTakeover))
				d.noOurContextTakeover = true
			default:
				// 未知参数不能被应答，放弃整个协商。
				d.logger.Debug(
					"[wsext-deflate] unknown parameter",
					zap.String("param", p.Name()),
				)
				return nil
			}
		}
	case wsext.ModeClient:
		for _, p := range params {
			d.logger.Debug(
				"[wsext-deflate] configure client",
				zap.String("param", p.Name()),
			)

			switch p.Name() {
			case serverNoContextTakeover:
				d.noTheirContextTakeover = true
			case clientNoContextTakeover:
				d.noOurContextTakeover = true
			case serverMaxWindowBits:
				// 服务端的窗口不能超过客户端 offer 中给出的上界。
				if !d.setTheirMaxWindowBits(p, d.theirMaxWindowBits) {
					return nil
				}
			case clientMaxWindowBits:
				if bits, ok := windowBitsValue(p); ok {
					if bits < 8 || bits > 15 {
						d.logger.Debug(
							"[wsext-deflate] unacceptable client_max_window_bits",
							zap.Int("bits", bits),
						)
						return nil
					}
					// 服务端只能缩小客户端的窗口，不能放大。
					// flate 引擎的下界是 9，即使服务端允许降到 8。
					d.ourMaxWindowBits = min(d.ourMaxWindowBits, max(9, bits))
				}
			default:
				d.logger.Debug(
					"[wsext-deflate] unknown parameter",
					zap.String("param", p.Name()),
				)
				return nil
			}
		}
	}

	d.enabled = true
	return d.rebuildEngines()
}

// setTheirMaxWindowBits 解析并存储对端的最大窗口大小。
// expected 大于 0 时作为允许的上界。
// 返回 false 表示放弃协商。
func (d *Deflate) setTheirMaxWindowBits(p wsext.Param, expected int) bool {
	bits, ok := windowBitsValue(p)
	if !ok {
		// 没有值或无法解析时保持默认值。
		return true
	}

	if bits < 8 || bits > 15 {
		d.logger.Debug(
			"[wsext-deflate] window bits out of range",
			zap.String("param", p.Name()),
			zap.Int("bits", bits),
		)
		return false
	}
	if expected > 0 && bits > expected {
		d.logger.Debug(
			"[wsext-deflate] window bits exceed offered bound",
			zap.String("param", p.Name()),
			zap.Int("bits", bits),
			zap.Int("offered", expected),
		)
		return false
	}

	// flate 引擎不支持 8 bits，收窄到 9。
	d.theirMaxWindowBits = max(9, bits)
	return true
}

// rebuildEngines 按协商确定的窗口大小重建压缩 / 解压引擎。
// 只在协商成功时调用一次。
func (d *Deflate) rebuildEngines() error {
	encoder, err := xflate.NewWriter(d.level, d.ourMaxWindowBits)
	if err != nil {
		return err
	}

	d.encoder = encoder
	d.decoder = xflate.NewReader(d.theirMaxWindowBits, d.maxBufferSize, d.growBufferSize)
	return nil
}

// Encode 在发送前压缩帧的 payload。
//
// 空 payload 或非 Text / Binary 帧原样跳过。
// 压缩后去掉结尾的 00 00 FF FF，置上 rsv1 并更新 payload 长度。
func (d *Deflate) Encode(frame *ws.Frame) error {
	if !d.enabled || len(frame.Payload) == 0 {
		return nil
	}
	if frame.Header.OpCode != ws.OpText && frame.Header.OpCode != ws.OpBinary {
		return nil
	}

	if d.noOurContextTakeover {
		d.encoder.Reset()
	}

	out, err := d.encoder.Compress(d.buffer[:0], frame.Payload)
	if err != nil {
		return err
	}

	// 交换 scratch 缓冲和帧 payload，避免拷贝。
	d.buffer, frame.Payload = frame.Payload[:0], out

	_, r2, r3 := ws.RsvBits(frame.Header.Rsv)
	frame.Header.Rsv = ws.Rsv(true, r2, r3)
	frame.Header.Length = int64(len(frame.Payload))
	return nil
}

// Decode 在接收后解压帧的 payload。
//
// 只处理带 rsv1 的 Text / Binary 帧，
// 以及终结一条压缩消息的最后一个 Continuation 帧；
// 其余帧原样跳过。
// 解压前补回 00 00 FF FF，完成后清掉 rsv1 并更新 payload 长度。
func (d *Deflate) Decode(frame *ws.Frame) error {
	if !d.enabled || len(frame.Payload) == 0 {
		return nil
	}

	header := &frame.Header
	rsv1, r2, r3 := ws.RsvBits(header.Rsv)

	switch {
	case (header.OpCode == ws.OpText || header.OpCode == ws.OpBinary) && rsv1:
		if !header.Fin {
			// 压缩消息的分片由调用方累积，
			// 这里只记录压缩消息已经开始，等终结分片到达再解压。
			d.awaitLastFragment = true
			return nil
		}
	case header.OpCode == ws.OpContinuation && header.Fin && d.awaitLastFragment:
		d.awaitLastFragment = false
	default:
		return nil
	}

	if d.noTheirContextTakeover {
		d.decoder.Reset()
	}

	out, err := d.decoder.Decompress(d.buffer[:0], frame.Payload)
	if err != nil {
		return err
	}

	// 交换 scratch 缓冲和帧 payload，避免拷贝。
	d.buffer, frame.Payload = frame.Payload[:0], out

	header.Rsv = ws.Rsv(false, r2, r3)
	header.Length = int64(len(frame.Payload))
	return nil
}

// Close 关闭压缩 / 解压引擎。
func (d *Deflate) Close() error {
	var err error
	if d.encoder != nil {
		err = multierr.Append(err, d.encoder.Close())
	}
	if d.decoder != nil {
		err = multierr.Append(err, d.decoder.Close())
	}
	return err
}

// windowBitsValue 解析窗口大小参数的值。
// 参数没有值或无法解析为整数时返回 false。
func windowBitsValue(p wsext.Param) (int, bool) {
	v, ok := p.Value()
	if !ok {
		return 0, false
	}
	bits, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return bits, true
}
