package deflate

import (
	"github.com/JrMarcco/jit/bean/option"
	"go.uber.org/zap"
)

// WithLogger 指定扩展使用的 logger，默认是 zap.NewNop()。
func WithLogger(logger *zap.Logger) option.Opt[Deflate] {
	return func(d *Deflate) {
		d.logger = logger
	}
}

// WithCompressionLevel 指定压缩级别，范围 [0,9]，默认 1 ( 最快 )。
func WithCompressionLevel(level int) option.Opt[Deflate] {
	return func(d *Deflate) {
		d.SetCompressionLevel(level)
	}
}

// WithMaxBufferSize 指定解压缓冲上限，默认 256 MiB。
func WithMaxBufferSize(size int) option.Opt[Deflate] {
	return func(d *Deflate) {
		d.SetMaxBufferSize(size)
	}
}

// WithGrowBufferSize 指定解压缓冲的增长步长，默认 4 KiB。
func WithGrowBufferSize(size int) option.Opt[Deflate] {
	return func(d *Deflate) {
		d.SetGrowBufferSize(size)
	}
}

// WithMaxServerWindowBits 在客户端 offer 中限制服务端的最大窗口大小。
// 仅客户端模式可用。
func WithMaxServerWindowBits(max int) option.Opt[Deflate] {
	return func(d *Deflate) {
		d.SetMaxServerWindowBits(max)
	}
}

// WithMaxClientWindowBits 在客户端 offer 中声明客户端自己的最大窗口大小。
// 仅客户端模式可用。
func WithMaxClientWindowBits(max int) option.Opt[Deflate] {
	return func(d *Deflate) {
		d.SetMaxClientWindowBits(max)
	}
}
