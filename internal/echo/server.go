// Package echo 实现一个帧级别的 echo 服务，
// 用于演示压缩扩展在真实连接上的完整流程：
// 握手协商、收帧解压、回显压缩。
package echo

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/JrMarcco/jit/bean/option"
	"github.com/JrMarcco/wsext"
	"github.com/JrMarcco/wsext/accesscontrol"
	"github.com/cenkalti/backoff/v5"
	"github.com/gobwas/ws"
	"go.uber.org/zap"
)

type Server struct {
	config *Config

	listener net.Listener

	hostPolicy accesscontrol.Policy
	backoff    *backoff.ExponentialBackOff

	acceptNewConn atomic.Bool

	ctx        context.Context
	cancelFunc context.CancelFunc

	logger *zap.Logger
}

// Start 启动 echo 服务器。
func (s *Server) Start() error {
	ln, err := net.Listen(s.config.Network, s.config.Address())
	if err != nil {
		return err
	}

	s.listener = ln

	go s.acceptConn()
	return nil
}

// Addr 返回 listener 的实际地址，配置端口为 0 时由系统分配。
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// acceptConn 接收连接。
func (s *Server) acceptConn() {
	for {
		if !s.acceptNewConn.Load() {
			s.logger.Info("[wsext-echo] server is not accepting new connections")
			return
		}

		conn, err := s.listener.Accept()
		if err != nil {
			s.logger.Error(
				"[wsext-echo] failed to accept connection",
				zap.Error(err),
			)
			if errors.Is(err, net.ErrClosed) {
				// net.ErrClosed 表示 listener 已关闭，
				// 此时可以退出。
				return
			}

			var netOpErr *net.OpError
			if errors.As(err, &netOpErr) && (netOpErr.Timeout() || netOpErr.Temporary()) {
				// timeout 或 temporary 错误时退避后继续尝试。
				next := s.backoff.NextBackOff()
				s.logger.Warn(
					"[wsext-echo] transient accept error, backing off",
					zap.Duration("next_backoff", next),
				)
				time.Sleep(next)
				continue
			}

			// 确保循环继续而不是意外退出。
			continue
		}

		// 成功接收连接，重置退避策略。
		s.backoff.Reset()

		go s.handleConn(conn)
	}
}

// handleConn 处理单个连接：升级、协商压缩扩展、回显数据帧。
func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn(
				"[wsext-echo] failed to close connection",
				zap.Error(err),
			)
		}
	}()

	// 扩展实例持有连接生命周期内的状态，每个连接单独构造。
	var exts []wsext.Extension
	if s.config.Compression.Enabled {
		exts = append(exts, s.config.Compression.Build(wsext.ModeServer, s.logger))
	}
	defer func() {
		for _, ext := range exts {
			if closer, ok := ext.(io.Closer); ok {
				_ = closer.Close()
			}
		}
	}()

	upgrader := ws.Upgrader{
		Negotiate: wsext.NegotiateFunc(exts),
		OnHost: func(host []byte) error {
			if s.hostPolicy.Allowed(host) {
				return nil
			}
			return ws.RejectConnectionError(
				ws.RejectionStatus(http.StatusForbidden),
				ws.RejectionReason("host not allowed"),
			)
		},
	}

	if _, err := upgrader.Upgrade(conn); err != nil {
		s.logger.Error(
			"[wsext-echo] failed to upgrade connection from HTTP to WebSocket",
			zap.Error(err),
		)
		return
	}

	for _, ext := range exts {
		s.logger.Info(
			"[wsext-echo] extension negotiated",
			zap.String("extension", ext.Name()),
			zap.Bool("enabled", ext.Enabled()),
		)
	}

	s.echoLoop(conn, exts)
}

// echoLoop 读取数据帧，解压后把内容原样压缩回显给对端。
func (s *Server) echoLoop(conn net.Conn, exts []wsext.Extension) {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		frame, err := ws.ReadFrame(conn)
		if err != nil {
			s.logger.Info("[wsext-echo] failed to read frame", zap.Error(err))
			return
		}

		if frame.Header.Masked {
			frame = ws.UnmaskFrameInPlace(frame)
		}

		switch frame.Header.OpCode {
		case ws.OpClose:
			_ = ws.WriteFrame(conn, ws.NewCloseFrame(nil))
			return
		case ws.OpPing:
			if err := ws.WriteFrame(conn, ws.NewPongFrame(frame.Payload)); err != nil {
				return
			}
			continue
		case ws.OpPong:
			continue
		}

		for _, ext := range exts {
			if err := ext.Decode(&frame); err != nil {
				// 解压失败（包括超出缓冲上限）直接断开连接。
				s.logger.Error(
					"[wsext-echo] failed to decode frame",
					zap.String("extension", ext.Name()),
					zap.Error(err),
				)
				_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(
					ws.StatusInternalServerError, "failed to decode frame",
				)))
				return
			}
		}

		out := ws.NewFrame(frame.Header.OpCode, frame.Header.Fin, frame.Payload)
		for _, ext := range exts {
			if err := ext.Encode(&out); err != nil {
				s.logger.Error(
					"[wsext-echo] failed to encode frame",
					zap.String("extension", ext.Name()),
					zap.Error(err),
				)
				return
			}
		}

		if err := ws.WriteFrame(conn, out); err != nil {
			s.logger.Error("[wsext-echo] failed to write frame", zap.Error(err))
			return
		}
	}
}

func (s *Server) Shutdown() error {
	s.acceptNewConn.Store(false)

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("[wsext-echo] failed to close net listener", zap.Error(err))
		}
	}

	s.cancelFunc()
	return nil
}

func NewServer(config *Config, logger *zap.Logger, opts ...option.Opt[Server]) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	var hostPolicy accesscontrol.Policy = accesscontrol.AllowAny{}
	if len(config.AllowedHosts) > 0 {
		hostPolicy = accesscontrol.NewAllowList(config.AllowedHosts...)
	}

	s := &Server{
		config: config,

		hostPolicy: hostPolicy,
		backoff:    backoff.NewExponentialBackOff(),

		ctx:        ctx,
		cancelFunc: cancel,

		logger: logger,
	}
	s.acceptNewConn.Store(true)

	option.Apply(s, opts...)
	return s
}
