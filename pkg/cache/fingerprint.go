package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint 从 (provider, model, 请求负载) 推导稳定的缓存键。
// 负载先序列化为 JSON 再反序列化成 map 后重新序列化，
// 这样字段顺序不同的等价请求会落到同一个键上。
func Fingerprint(provider, model string, payload interface{}) string {
	normalized := normalizePayload(payload)
	sum := sha256.Sum256([]byte(provider + "\x00" + model + "\x00" + normalized))
	return provider + ":" + model + ":" + hex.EncodeToString(sum[:])
}

func normalizePayload(payload interface{}) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload.(string); ok {
		return s
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}

	// 经由 map 往返后 json.Marshal 会按键名排序
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return string(raw)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return string(raw)
	}
	return string(canonical)
}
