package wechat

import (
	"fmt"
	"regexp"
)

var ipPattern = regexp.MustCompile(`\d+\.\d+\.\d+\.\d+`)

// ErrorMessage maps an API error code to guidance shown to the user.
func ErrorMessage(code int, msg string) string {
	switch code {
	case 40001, 40014, 42001:
		return "Access Token 已过期或无效，请尝试重新登录或检查配置。"
	case 40013:
		return "AppID 无效，请检查设置中的 AppID。"
	case 40007:
		return "无效的媒体文件 ID (media_id)。这可能是因为素材已过期、被删除，或草稿 ID 已失效。如果是封面图问题，请尝试重新选择封面图。"
	case 40003:
		return "OpenID 无效，请确保用户已关注公众号。"
	case 45009:
		return "接口调用超过限额，请明天再试。"
	case 48001:
		return "接口功能未授权，请确认公众号是否有相关权限。"
	case 40009:
		return "图片尺寸太大，请压缩图片后重试。"
	case 41005:
		return "缺少多媒体文件数据，请检查上传的图片是否有效。"
	case 40164:
		ip := ipPattern.FindString(msg)
		if ip == "" {
			ip = "当前IP"
		}
		return fmt.Sprintf("IP 白名单错误：%s 不在微信公众平台白名单中。请登录微信公众平台 → 设置与开发 → 基本配置 → IP 白名单，添加此 IP 地址。", ip)
	default:
		return fmt.Sprintf("微信API错误 (%d): %s", code, msg)
	}
}

// HandleError logs and shows the guidance for a failed response and returns it.
// It does not alter control flow.
func (c *Client) HandleError(resp *Response) string {
	msg := ErrorMessage(resp.ErrCode, resp.ErrMsg)
	c.logger.Error(msg, "errcode", resp.ErrCode, "errmsg", resp.ErrMsg)
	c.notifier.Notify(msg)
	return msg
}
