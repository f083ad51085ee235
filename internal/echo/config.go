package echo

import (
	"fmt"

	"github.com/JrMarcco/wsext/deflate"
)

const (
	defaultHost = "0.0.0.0"
	defaultPort = 17101
)

// Config 为 echo 服务的相关配置。
type Config struct {
	Host         string         `yaml:"host" mapstructure:"host"`                   // IP 地址，默认 0.0.0.0
	Port         int            `yaml:"port" mapstructure:"port"`                   // 端口号，默认 17101
	Network      string         `yaml:"network" mapstructure:"network"`             // 网络协议，默认 tcp4
	AllowedHosts []string       `yaml:"allowed_hosts" mapstructure:"allowed_hosts"` // Host 头白名单，为空时允许任意值
	Compression  deflate.Config `yaml:"compression" mapstructure:"compression"`     // 压缩扩展配置
}

func DefaultConfig() *Config {
	return &Config{
		Host:    defaultHost,
		Port:    defaultPort,
		Network: "tcp4",
		Compression: deflate.Config{
			Enabled: true,
		},
	}
}

func (cfg Config) Address() string {
	if cfg.Network == "unix" {
		// unix domain socket 启动时 Host 为 socket 文件路径。
		return cfg.Host
	}

	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}
