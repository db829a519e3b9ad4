package vnpay

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"net/url"
	"sort"
	"strings"
)

const (
	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"
	paramPrefix         = "vnp_"
)

func hashFunc(alg HashAlgorithm) (func() hash.Hash, error) {
	switch HashAlgorithm(strings.ToUpper(string(alg))) {
	case HashAlgorithmSHA512, "":
		return sha512.New, nil
	case HashAlgorithmSHA256:
		return sha256.New, nil
	case HashAlgorithmMD5:
		return md5.New, nil
	default:
		return nil, fmt.Errorf("vnpay: unsupported hash algorithm %q", alg)
	}
}

type signer struct {
	secret  []byte
	newHash func() hash.Hash
}

func newSigner(secret string, alg HashAlgorithm) (signer, error) {
	fn, err := hashFunc(alg)
	if err != nil {
		return signer{}, err
	}
	return signer{secret: []byte(secret), newHash: fn}, nil
}

// canonicalQuery собирает строку для подписи: vnp_-параметры кроме полей хэша,
// отсортированные по ключу, ключи и значения в form-encoding, пустые значения пропускаются.
func canonicalQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if !strings.HasPrefix(key, paramPrefix) || key == paramSecureHash || key == paramSecureHashType {
			continue
		}
		if params.Get(key) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(key)))
	}
	return b.String()
}

func (s signer) sign(data string) string {
	mac := hmac.New(s.newHash, s.secret)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// verify пересчитывает подпись и сравнивает дайджесты за постоянное время.
// Регистр hex в присланной подписи не важен.
func (s signer) verify(params url.Values) bool {
	supplied, err := hex.DecodeString(strings.TrimSpace(params.Get(paramSecureHash)))
	if err != nil || len(supplied) == 0 {
		return false
	}
	expected, _ := hex.DecodeString(s.sign(canonicalQuery(params)))
	return hmac.Equal(expected, supplied)
}
