package auth

import (
	"errors"
	"fmt"
	"time"

	"ghibli-go/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "ghibli-go"

// ErrInvalidDownloadToken 令牌缺失、被篡改或已过期。
var ErrInvalidDownloadToken = errors.New("下载令牌无效")

// DownloadClaims 是下载令牌中的自定义声明。
// 只有服务器签发过的图片地址才能通过下载代理获取。
type DownloadClaims struct {
	ImageURL string `json:"imageUrl"`
	FileName string `json:"fileName"`
	jwt.RegisteredClaims
}

// GenerateDownloadToken 为转换后的图片生成一个短期有效的下载令牌。
func GenerateDownloadToken(imageURL, fileName string, downloadCfg config.DownloadConfig) (string, error) {
	if imageURL == "" {
		return "", errors.New("图片地址不能为空")
	}
	if downloadCfg.SecretKey == "" {
		return "", errors.New("下载密钥未配置")
	}

	now := time.Now()
	claims := &DownloadClaims{
		ImageURL: imageURL,
		FileName: fileName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(downloadCfg.TokenTTL)),
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(downloadCfg.SecretKey))
	if err != nil {
		return "", fmt.Errorf("生成下载令牌失败: %w", err)
	}
	return tokenString, nil
}

// ValidateDownloadToken 验证下载令牌, 返回其中的声明。
// 所有失败都包装为 ErrInvalidDownloadToken。
func ValidateDownloadToken(tokenString string, secretKey string) (*DownloadClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: 缺少令牌", ErrInvalidDownloadToken)
	}
	if secretKey == "" {
		return nil, fmt.Errorf("%w: 下载密钥未配置", ErrInvalidDownloadToken)
	}

	claims := &DownloadClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非预期的签名算法: %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDownloadToken, err)
	}
	if !token.Valid || claims.ImageURL == "" {
		return nil, ErrInvalidDownloadToken
	}
	return claims, nil
}
