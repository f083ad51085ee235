package deflate_test

import (
	"bytes"
	"testing"

	"github.com/JrMarcco/wsext"
	"github.com/JrMarcco/wsext/deflate"
	"github.com/gobwas/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestDeflate(t *testing.T) {
	t.Parallel()

	suite.Run(t, &DeflateSuite{})
}

type DeflateSuite struct {
	suite.Suite
}

// negotiatedPair 返回一对完成协商的客户端 / 服务端扩展。
func (s *DeflateSuite) negotiatedPair() (client, server *deflate.Deflate) {
	t := s.T()

	client = deflate.New(wsext.ModeClient)
	server = deflate.New(wsext.ModeServer)

	require.NoError(t, server.Configure(client.Params()))
	require.True(t, server.Enabled())

	require.NoError(t, client.Configure(server.Params()))
	require.True(t, client.Enabled())

	return client, server
}

func (s *DeflateSuite) TestClientDefaultOffer() {
	t := s.T()

	client := deflate.New(wsext.ModeClient)
	assert.False(t, client.Enabled())
	assert.Equal(t, "permessage-deflate", client.Name())

	params := client.Params()
	require.Len(t, params, 3)
	assert.Equal(t, "server_no_context_takeover", params[0].Name())
	assert.Equal(t, "client_no_context_takeover", params[1].Name())
	assert.Equal(t, "client_max_window_bits", params[2].Name())
	_, hasValue := params[2].Value()
	assert.False(t, hasValue)
}

func (s *DeflateSuite) TestReservedBits() {
	t := s.T()

	ext := deflate.New(wsext.ModeServer)
	rsv1, rsv2, rsv3 := ext.ReservedBits()
	assert.True(t, rsv1)
	assert.False(t, rsv2)
	assert.False(t, rsv3)

	_, ok := ext.ReservedOpCode()
	assert.False(t, ok)
}

func (s *DeflateSuite) TestRoundTrip() {
	t := s.T()

	client, server := s.negotiatedPair()

	payload := []byte("a quick brown fox jumps over the lazy dog, twice: " +
		"a quick brown fox jumps over the lazy dog")

	frame := ws.NewFrame(ws.OpText, true, bytes.Clone(payload))
	require.NoError(t, client.Encode(&frame))

	rsv1, _, _ := ws.RsvBits(frame.Header.Rsv)
	assert.True(t, rsv1)
	assert.Equal(t, int64(len(frame.Payload)), frame.Header.Length)
	assert.NotEqual(t, payload, frame.Payload)

	require.NoError(t, server.Decode(&frame))

	rsv1, _, _ = ws.RsvBits(frame.Header.Rsv)
	assert.False(t, rsv1)
	assert.Equal(t, payload, frame.Payload)
	assert.Equal(t, int64(len(payload)), frame.Header.Length)
}

func (s *DeflateSuite) TestRoundTripServerToClient() {
	t := s.T()

	client, server := s.negotiatedPair()

	payload := []byte("response body from the server side")

	frame := ws.NewFrame(ws.OpBinary, true, bytes.Clone(payload))
	require.NoError(t, server.Encode(&frame))
	require.NoError(t, client.Decode(&frame))

	assert.Equal(t, payload, frame.Payload)
}

func (s *DeflateSuite) TestEmptyPayloadNoop() {
	t := s.T()

	client, server := s.negotiatedPair()

	frame := ws.NewFrame(ws.OpText, true, nil)
	original := frame

	require.NoError(t, client.Encode(&frame))
	assert.Equal(t, original, frame)

	require.NoError(t, server.Decode(&frame))
	assert.Equal(t, original, frame)
}

func (s *DeflateSuite) TestNonDataFrameNoop() {
	t := s.T()

	client, _ := s.negotiatedPair()

	frame := ws.NewFrame(ws.OpPing, true, []byte("ping payload"))
	original := ws.NewFrame(ws.OpPing, true, bytes.Clone(frame.Payload))

	require.NoError(t, client.Encode(&frame))
	assert.Equal(t, original.Header, frame.Header)
	assert.Equal(t, original.Payload, frame.Payload)
}

func (s *DeflateSuite) TestDecodeWithoutCompressionBitNoop() {
	t := s.T()

	_, server := s.negotiatedPair()

	payload := []byte("uncompressed text frame")
	frame := ws.NewFrame(ws.OpText, true, bytes.Clone(payload))

	require.NoError(t, server.Decode(&frame))
	assert.Equal(t, payload, frame.Payload)
}

func (s *DeflateSuite) TestDisabledExtensionIsPassThrough() {
	t := s.T()

	ext := deflate.New(wsext.ModeServer)
	require.False(t, ext.Enabled())

	payload := []byte("payload before negotiation")
	frame := ws.NewFrame(ws.OpText, true, bytes.Clone(payload))

	require.NoError(t, ext.Encode(&frame))
	assert.Equal(t, payload, frame.Payload)

	require.NoError(t, ext.Decode(&frame))
	assert.Equal(t, payload, frame.Payload)
}

func (s *DeflateSuite) TestUnknownParamAbandonsNegotiation() {
	t := s.T()

	server := deflate.New(wsext.ModeServer)
	err := server.Configure([]wsext.Param{wsext.NewParam("foo")})
	require.NoError(t, err)
	assert.False(t, server.Enabled())

	client := deflate.New(wsext.ModeClient)
	err = client.Configure([]wsext.Param{wsext.NewParam("foo")})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
}

func (s *DeflateSuite) TestServerRejectsOutOfRangeClientWindowBits() {
	t := s.T()

	server := deflate.New(wsext.ModeServer)
	err := server.Configure([]wsext.Param{
		wsext.NewParamWithValue("client_max_window_bits", "5"),
	})
	require.NoError(t, err)
	assert.False(t, server.Enabled())
}

func (s *DeflateSuite) TestServerAcceptsWindowBitsEight() {
	t := s.T()

	// RFC 允许 8，内部收窄到 9（见内部测试）。
	server := deflate.New(wsext.ModeServer)
	err := server.Configure([]wsext.Param{
		wsext.NewParamWithValue("client_max_window_bits", "8"),
	})
	require.NoError(t, err)
	assert.True(t, server.Enabled())
}

func (s *DeflateSuite) TestServerEchoesServerMaxWindowBits() {
	t := s.T()

	server := deflate.New(wsext.ModeServer)
	err := server.Configure([]wsext.Param{
		wsext.NewParamWithValue("server_max_window_bits", "10"),
	})
	require.NoError(t, err)
	require.True(t, server.Enabled())

	params := server.Params()
	require.Len(t, params, 1)
	assert.Equal(t, "server_max_window_bits", params[0].Name())
	v, hasValue := params[0].Value()
	assert.True(t, hasValue)
	assert.Equal(t, "10", v)
}

func (s *DeflateSuite) TestServerDeclinesBadServerMaxWindowBits() {
	t := s.T()

	testCases := []struct {
		name  string
		param wsext.Param
	}{
		{name: "below engine range", param: wsext.NewParamWithValue("server_max_window_bits", "8")},
		{name: "above range", param: wsext.NewParamWithValue("server_max_window_bits", "16")},
		{name: "not a number", param: wsext.NewParamWithValue("server_max_window_bits", "abc")},
		{name: "missing value", param: wsext.NewParam("server_max_window_bits")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := deflate.New(wsext.ModeServer)
			err := server.Configure([]wsext.Param{tc.param})
			require.NoError(t, err)
			assert.False(t, server.Enabled())
		})
	}
}

func (s *DeflateSuite) TestServerEchoesContextTakeoverParams() {
	t := s.T()

	server := deflate.New(wsext.ModeServer)
	err := server.Configure([]wsext.Param{
		wsext.NewParam("client_no_context_takeover"),
		wsext.NewParam("server_no_context_takeover"),
	})
	require.NoError(t, err)
	require.True(t, server.Enabled())

	params := server.Params()
	require.Len(t, params, 2)
	assert.Equal(t, "client_no_context_takeover", params[0].Name())
	assert.Equal(t, "server_no_context_takeover", params[1].Name())
}

func (s *DeflateSuite) TestClientRejectsLargerServerWindowThanOffered() {
	t := s.T()

	client := deflate.New(wsext.ModeClient)
	client.SetMaxServerWindowBits(10)

	err := client.Configure([]wsext.Param{
		wsext.NewParamWithValue("server_max_window_bits", "12"),
	})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
}

func (s *DeflateSuite) TestClientAcceptsShrunkServerWindow() {
	t := s.T()

	client := deflate.New(wsext.ModeClient)
	client.SetMaxServerWindowBits(12)

	err := client.Configure([]wsext.Param{
		wsext.NewParamWithValue("server_max_window_bits", "10"),
	})
	require.NoError(t, err)
	assert.True(t, client.Enabled())
}

func (s *DeflateSuite) TestClientRejectsOutOfRangeClientWindowBits() {
	t := s.T()

	client := deflate.New(wsext.ModeClient)
	err := client.Configure([]wsext.Param{
		wsext.NewParamWithValue("client_max_window_bits", "16"),
	})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
}

func (s *DeflateSuite) TestSetMaxClientWindowBitsUpdatesOffer() {
	t := s.T()

	client := deflate.New(wsext.ModeClient)
	client.SetMaxClientWindowBits(11)

	var found bool
	for _, p := range client.Params() {
		if p.Name() == "client_max_window_bits" {
			v, hasValue := p.Value()
			require.True(t, hasValue)
			assert.Equal(t, "11", v)
			found = true
		}
	}
	assert.True(t, found)
}

func (s *DeflateSuite) TestWindowBitsSettersPanic() {
	t := s.T()

	server := deflate.New(wsext.ModeServer)
	assert.Panics(t, func() { server.SetMaxServerWindowBits(10) })
	assert.Panics(t, func() { server.SetMaxClientWindowBits(10) })

	client := deflate.New(wsext.ModeClient)
	assert.Panics(t, func() { client.SetMaxServerWindowBits(8) })
	assert.Panics(t, func() { client.SetMaxClientWindowBits(16) })

	assert.Panics(t, func() { client.SetCompressionLevel(10) })
}

func (s *DeflateSuite) TestBufferLimitExceeded() {
	t := s.T()

	client := deflate.New(wsext.ModeClient)
	server := deflate.New(wsext.ModeServer)
	server.SetMaxBufferSize(16)

	require.NoError(t, server.Configure(client.Params()))
	require.True(t, server.Enabled())
	require.NoError(t, client.Configure(server.Params()))
	require.True(t, client.Enabled())

	payload := bytes.Repeat([]byte("a"), 1024)
	frame := ws.NewFrame(ws.OpText, true, bytes.Clone(payload))
	require.NoError(t, client.Encode(&frame))

	compressed := bytes.Clone(frame.Payload)
	err := server.Decode(&frame)
	require.ErrorIs(t, err, deflate.ErrExceededBufferLimit)

	// 出错时帧的 payload 不会被换成部分解压结果。
	assert.Equal(t, compressed, frame.Payload)
}

func (s *DeflateSuite) TestNoContextTakeoverRepeatedMessages() {
	t := s.T()

	// 客户端默认 offer 同时请求两个方向的 no context takeover。
	client, server := s.negotiatedPair()

	payload := []byte("repeated message payload")

	var outputs [][]byte
	for range 2 {
		frame := ws.NewFrame(ws.OpText, true, bytes.Clone(payload))
		require.NoError(t, client.Encode(&frame))
		outputs = append(outputs, bytes.Clone(frame.Payload))

		require.NoError(t, server.Decode(&frame))
		assert.Equal(t, payload, frame.Payload)
	}

	// 历史不跨消息累积，两次压缩输出完全一致。
	assert.Equal(t, outputs[0], outputs[1])
}

func (s *DeflateSuite) TestContextTakeoverRepeatedMessages() {
	t := s.T()

	// 双方都不请求 no context takeover，历史跨消息保留。
	client := deflate.New(wsext.ModeClient)
	server := deflate.New(wsext.ModeServer)

	require.NoError(t, server.Configure(nil))
	require.True(t, server.Enabled())
	require.NoError(t, client.Configure(nil))
	require.True(t, client.Enabled())

	payload := []byte("repeated message payload, long enough to benefit from history")

	for range 3 {
		frame := ws.NewFrame(ws.OpText, true, bytes.Clone(payload))
		require.NoError(t, client.Encode(&frame))
		require.NoError(t, server.Decode(&frame))
		assert.Equal(t, payload, frame.Payload)
	}
}

func (s *DeflateSuite) TestFragmentedMessage() {
	t := s.T()

	client, server := s.negotiatedPair()

	payload := []byte("fragmented message payload spanning two frames")
	frame := ws.NewFrame(ws.OpText, true, bytes.Clone(payload))
	require.NoError(t, client.Encode(&frame))
	compressed := bytes.Clone(frame.Payload)

	// 首个分片：压缩位置位、fin 为 false，组件不解压，只记录状态。
	first := ws.NewFrame(ws.OpText, false, bytes.Clone(compressed[:len(compressed)/2]))
	first.Header.Rsv = ws.Rsv(true, false, false)

	require.NoError(t, server.Decode(&first))
	assert.Equal(t, compressed[:len(compressed)/2], first.Payload)

	// 调用方负责累积分片；终结分片携带完整的压缩字节序列。
	last := ws.NewFrame(ws.OpContinuation, true, bytes.Clone(compressed))
	require.NoError(t, server.Decode(&last))
	assert.Equal(t, payload, last.Payload)
}

func (s *DeflateSuite) TestCorruptPayloadFailsDecode() {
	t := s.T()

	_, server := s.negotiatedPair()

	frame := ws.NewFrame(ws.OpText, true, []byte{0xde, 0xad, 0xbe, 0xef, 0xff})
	frame.Header.Rsv = ws.Rsv(true, false, false)
	require.Error(t, server.Decode(&frame))
}

func (s *DeflateSuite) TestClose() {
	t := s.T()

	client, server := s.negotiatedPair()
	assert.NoError(t, client.Close())
	assert.NoError(t, server.Close())

	// 未协商的扩展没有引擎，Close 仍然安全。
	assert.NoError(t, deflate.New(wsext.ModeServer).Close())
}
