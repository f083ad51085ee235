package wsext

import (
	"bytes"

	"github.com/gobwas/httphead"
)

// ParamsFromOption 把 Sec-WebSocket-Extensions 头中的一个 option
// 转换为有序的 Param 序列。
// option 本身的语法解析由 github.com/gobwas/httphead 负责。
func ParamsFromOption(opt httphead.Option) []Param {
	var params []Param
	opt.Parameters.ForEach(func(key, val []byte) bool {
		if len(val) == 0 {
			params = append(params, NewParam(string(key)))
		} else {
			params = append(params, NewParamWithValue(string(key), string(val)))
		}
		return true
	})
	return params
}

// OptionFromExtension 把扩展的名字和当前出站参数转换为 httphead.Option，
// 供握手层写入 Sec-WebSocket-Extensions 头。
func OptionFromExtension(ext Extension) httphead.Option {
	opt := httphead.Option{Name: []byte(ext.Name())}
	for _, p := range ext.Params() {
		if v, ok := p.Value(); ok {
			opt.Parameters.Set([]byte(p.Name()), []byte(v))
		} else {
			opt.Parameters.Set([]byte(p.Name()), nil)
		}
	}
	return opt
}

// ServerNegotiate 执行服务端的扩展协商。
//
// 对每个扩展，用请求中第一个名字匹配的 offer 参数调用 Configure，
// 扩展可以在内部启用自己。
// 返回所有已启用扩展的 option，供握手层写入响应。
// 注：
//
//	协商失败（参数不合法、参数名未知等）不会返回 error，
//	对应扩展只是保持未启用状态。
func ServerNegotiate(exts []Extension, offers []httphead.Option) ([]httphead.Option, error) {
	for _, ext := range exts {
		name := []byte(ext.Name())
		for _, offer := range offers {
			if !bytes.Equal(offer.Name, name) {
				continue
			}
			if err := ext.Configure(ParamsFromOption(offer)); err != nil {
				return nil, err
			}
			break
		}
	}

	var accepted []httphead.Option
	for _, ext := range exts {
		if ext.Enabled() {
			accepted = append(accepted, OptionFromExtension(ext))
		}
	}
	return accepted, nil
}

// NegotiateFunc 把 ServerNegotiate 的逻辑适配为逐 option 的回调，
// 供握手层（如 gobwas/ws 的 Upgrader.Negotiate）在解析
// Sec-WebSocket-Extensions 头时逐个调用。
//
// 同名扩展只接受第一个匹配的 offer，之后的重复 offer 被忽略。
// 返回零值 option（Name 为 nil）表示不接受该 offer。
func NegotiateFunc(exts []Extension) func(httphead.Option) (httphead.Option, error) {
	return func(opt httphead.Option) (httphead.Option, error) {
		for _, ext := range exts {
			if ext.Enabled() || !bytes.Equal(opt.Name, []byte(ext.Name())) {
				continue
			}
			if err := ext.Configure(ParamsFromOption(opt)); err != nil {
				return httphead.Option{}, err
			}
			if ext.Enabled() {
				return OptionFromExtension(ext), nil
			}
			return httphead.Option{}, nil
		}
		return httphead.Option{}, nil
	}
}

// ClientOffer 构造客户端握手请求中的扩展 offer。
// 所有扩展（无论是否启用）都参与 offer。
func ClientOffer(exts []Extension) []httphead.Option {
	offers := make([]httphead.Option, 0, len(exts))
	for _, ext := range exts {
		offers = append(offers, OptionFromExtension(ext))
	}
	return offers
}

// ClientAccept 执行客户端对服务端响应的扩展协商。
// 对每个名字出现在响应中的扩展，用响应参数调用 Configure。
func ClientAccept(exts []Extension, accepted []httphead.Option) error {
	for _, ext := range exts {
		name := []byte(ext.Name())
		for _, opt := range accepted {
			if !bytes.Equal(opt.Name, name) {
				continue
			}
			if err := ext.Configure(ParamsFromOption(opt)); err != nil {
				return err
			}
			break
		}
	}
	return nil
}
