package executor

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
)

// LocalSigner 从磁盘 keypair 文件（64 字节 ed25519 私钥的 JSON 数组）加载签名能力。
type LocalSigner struct {
	key    ed25519.PrivateKey
	pubkey string
}

// NewLocalSigner 读取 keypair 文件并构造签名者。
func NewLocalSigner(path string) (*LocalSigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 keypair 文件失败: %w", err)
	}
	var bytes []byte
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return nil, fmt.Errorf("解析 keypair 文件失败: %w", err)
	}
	if len(bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair 长度非法: %d", len(bytes))
	}
	key := ed25519.PrivateKey(bytes)
	return &LocalSigner{
		key:    key,
		pubkey: base58Encode(key.Public().(ed25519.PublicKey)),
	}, nil
}

// PublicKey 返回 base58 编码的公钥地址。
func (s *LocalSigner) PublicKey() string { return s.pubkey }

// Sign 对交易消息签名，返回线格式交易：单元素签名数组 + 消息。
func (s *LocalSigner) Sign(message []byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, fmt.Errorf("签名内容为空")
	}
	sig := ed25519.Sign(s.key, message)
	out := make([]byte, 0, 1+len(sig)+len(message))
	out = append(out, 0x01)
	out = append(out, sig...)
	out = append(out, message...)
	return out, nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// base58Encode 编码公钥地址。不为此单独引依赖，按标准算法实现。
func base58Encode(input []byte) string {
	x := new(big.Int).SetBytes(input)
	base := big.NewInt(58)
	mod := new(big.Int)
	var out []byte
	for x.Sign() > 0 {
		x.DivMod(x, base, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for _, b := range input {
		if b != 0 {
			break
		}
		out = append(out, base58Alphabet[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
