package xflate

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// readSuffix 是解压前追加到压缩数据之后的字节：
// 先补回发送端去掉的 00 00 FF FF ( RFC 7692, section 7.2.2 )，
// 再跟一个空的 stored final 块让 flate reader 正常返回 EOF。
var readSuffix = []byte{
	0x00, 0x00, 0xff, 0xff,
	0x01,
	0x00, 0x00, 0xff, 0xff,
}

// ErrExceededBufferLimit 表示解压输出超过了配置的缓冲上限。
// 用于防御解压放大攻击，调用方收到该错误后应当关闭连接。
var ErrExceededBufferLimit = errors.New("xflate: decompressed payload exceeds the configured buffer limit")

// Reader 是解压引擎的封装。
//
// flate reader 无法像 zlib inflate 那样跨独立数据流保留历史，
// 所以解压历史通过预置字典维持：
// 保留最近 1<<windowBits 字节的解压输出，
// 每条消息解压前作为字典喂给 flate reader。
// no context takeover 模式下调用方在每条消息前调用 Reset 丢弃历史。
//
// Reader 归单个连接独占，调用方负责串行化访问。
type Reader struct {
	fr flate.Resetter

	// dict 是维持解压历史的滑动窗口字典。
	dict []byte

	maxSize  int
	growSize int
}

// NewReader 创建 Reader。
//
// windowBits 限定字典大小，必须在 [9,15] 之间；
// maxSize 是解压输出上限，growSize 是缓冲增长步长。
func NewReader(windowBits, maxSize, growSize int) *Reader {
	return &Reader{
		// flate.NewReader 返回的 io.ReadCloser 总是实现 flate.Resetter。
		fr:       flate.NewReader(bytes.NewReader(nil)).(flate.Resetter),
		dict:     make([]byte, 0, 1<<windowBits),
		maxSize:  maxSize,
		growSize: growSize,
	}
}

// Reset 丢弃解压历史。
// 在 no context takeover 模式下每条消息解压前调用。
func (r *Reader) Reset() {
	r.dict = r.dict[:0]
}

// Decompress 把 payload 解压到 dst 之后。
// dst 通常是调用方复用的 scratch 缓冲（长度为 0，容量复用）。
//
// 输出超过配置上限时返回 ErrExceededBufferLimit，
// 压缩流本身损坏时原样返回 flate 的错误。
func (r *Reader) Decompress(dst, payload []byte) ([]byte, error) {
	src := io.MultiReader(bytes.NewReader(payload), bytes.NewReader(readSuffix))
	if err := r.fr.Reset(src, r.dict); err != nil {
		return nil, err
	}

	fr, ok := r.fr.(io.Reader)
	if !ok {
		return nil, fmt.Errorf("xflate: flate resetter %T is not a reader", r.fr)
	}

	buf := dst
	for {
		if cap(buf)-len(buf) == 0 {
			grown := make([]byte, len(buf), cap(buf)+r.growSize)
			copy(grown, buf)
			buf = grown
		}

		n, err := fr.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]

		if len(buf) > r.maxSize {
			return nil, fmt.Errorf("%w: limit %d", ErrExceededBufferLimit, r.maxSize)
		}

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	r.slide(buf)
	return buf, nil
}

// Close 关闭底层的 flate reader。
func (r *Reader) Close() error {
	if c, ok := r.fr.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// slide 把解压输出写入滑动窗口字典，保留最近的 cap(dict) 字节。
func (r *Reader) slide(p []byte) {
	if len(p) >= cap(r.dict) {
		r.dict = r.dict[:cap(r.dict)]
		copy(r.dict, p[len(p)-cap(r.dict):])
		return
	}

	if left := cap(r.dict) - len(r.dict); left < len(p) {
		shift := len(p) - left
		copy(r.dict, r.dict[shift:])
		r.dict = r.dict[:len(r.dict)-shift]
	}
	r.dict = append(r.dict, p...)
}
