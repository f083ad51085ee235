package deflate

import (
	"github.com/JrMarcco/jit/bean/option"
	"github.com/JrMarcco/wsext"
	"go.uber.org/zap"
)

// Config 为压缩扩展配置。
type Config struct {
	Enabled             bool `yaml:"enabled" mapstructure:"enabled"`
	ServerMaxWindowBits int  `yaml:"server_max_window_bits" mapstructure:"server_max_window_bits"`
	ClientMaxWindowBits int  `yaml:"client_max_window_bits" mapstructure:"client_max_window_bits"`
	Level               int  `yaml:"level" mapstructure:"level"`
	MaxBufferSize       int  `yaml:"max_buffer_size" mapstructure:"max_buffer_size"`
}

// Build 按配置构造一个 deflate 扩展实例。
// 窗口大小相关的 offer 参数只在客户端模式下生效。
func (cfg Config) Build(mode wsext.Mode, logger *zap.Logger) *Deflate {
	opts := []option.Opt[Deflate]{WithLogger(logger)}
	if cfg.Level > 0 {
		opts = append(opts, WithCompressionLevel(cfg.Level))
	}
	if cfg.MaxBufferSize > 0 {
		opts = append(opts, WithMaxBufferSize(cfg.MaxBufferSize))
	}

	d := New(mode, opts...)

	if mode == wsext.ModeClient {
		if cfg.ServerMaxWindowBits > 0 {
			d.SetMaxServerWindowBits(cfg.ServerMaxWindowBits)
		}
		if cfg.ClientMaxWindowBits > 0 {
			d.SetMaxClientWindowBits(cfg.ClientMaxWindowBits)
		}
	}
	return d
}
