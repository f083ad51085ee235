package xflate

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/flate"
)

// Trailer 是空 deflate 块的标记字节。
// 发送端压缩后去掉结尾的这 4 个字节，接收端解压前补回
// ( RFC 7692, section 7.2 )。
var Trailer = []byte{0x00, 0x00, 0xff, 0xff}

// ErrMissingTrailer 表示 sync flush 之后压缩输出的结尾不是预期的
// 00 00 FF FF。这是压缩引擎的内部错误，不是对端输入问题。
var ErrMissingTrailer = errors.New("xflate: compressed output does not end with 00 00 ff ff")

// Writer 是压缩引擎的封装。
//
// Writer 持有一个跨消息复用的 flate writer，
// 压缩历史 ( LZ77 窗口 ) 在多次 Compress 调用之间保留，
// 除非显式调用 Reset。
//
// Writer 归单个连接独占，调用方负责串行化访问。
type Writer struct {
	fw  *flate.Writer
	dst []byte
}

// NewWriter 以给定压缩级别和窗口大小创建 Writer。
//
// windowBits 必须在 [9,15] 之间。
// 注：
//
//	flate 的带级别构造器不支持自定义窗口大小，
//	所以只在 windowBits 小于 15 时走受限窗口构造器。
func NewWriter(level, windowBits int) (*Writer, error) {
	w := &Writer{}

	var err error
	if windowBits < 15 {
		w.fw, err = flate.NewWriterWindow(w, 1<<windowBits)
	} else {
		w.fw, err = flate.NewWriter(w, level)
	}
	if err != nil {
		return nil, fmt.Errorf("xflate: failed to create flate writer: %w", err)
	}
	return w, nil
}

// Write 是 flate writer 的输出端，把压缩输出追加到当前目标缓冲。
func (w *Writer) Write(p []byte) (int, error) {
	w.dst = append(w.dst, p...)
	return len(p), nil
}

// Reset 丢弃压缩历史。
// 在 no context takeover 模式下每条消息压缩前调用。
func (w *Writer) Reset() {
	w.fw.Reset(w)
}

// Compress 把 payload 压缩到 dst 之后，并去掉结尾的 00 00 FF FF。
// dst 通常是调用方复用的 scratch 缓冲（长度为 0，容量复用）。
func (w *Writer) Compress(dst, payload []byte) ([]byte, error) {
	w.dst = dst

	if _, err := w.fw.Write(payload); err != nil {
		return nil, err
	}

	// sync flush 保证输出以一个字节对齐的空 deflate 块结尾
	// ( RFC 7692, section 7.2.1 )。
	if err := w.fw.Flush(); err != nil {
		return nil, err
	}

	if !bytes.HasSuffix(w.dst, Trailer) {
		return nil, fmt.Errorf("%w: tail %#x", ErrMissingTrailer, tail(w.dst))
	}

	out := w.dst[:len(w.dst)-len(Trailer)]
	w.dst = nil
	return out, nil
}

// Close 关闭底层的 flate writer。
func (w *Writer) Close() error {
	return w.fw.Close()
}

func tail(p []byte) []byte {
	if len(p) <= len(Trailer) {
		return p
	}
	return p[len(p)-len(Trailer):]
}
