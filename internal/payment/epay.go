package payment

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// 易支付协议: 参数按 key 升序拼成 k=v&k=v, 末尾直接拼商户密钥,
// 取 MD5 十六进制。空值参数和 sign/sign_type 本身不参与签名。
func epaySign(params map[string]string, merchantKey string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || k == "sign" || k == "sign_type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	signStr := strings.Join(pairs, "&") + merchantKey

	sum := md5.Sum([]byte(signStr))
	return hex.EncodeToString(sum[:])
}

func epayVerify(params map[string]string, merchantKey string) bool {
	received := params["sign"]
	if received == "" {
		return false
	}
	return epaySign(params, merchantKey) == received
}

func epayPayURL(gatewayURL string, params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return fmt.Sprintf("%s/submit.php?%s", strings.TrimRight(gatewayURL, "/"), values.Encode())
}
