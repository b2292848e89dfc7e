package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type Claims struct {
	jwt.RegisteredClaims
	AffiliateCode string `json:"affiliate_code"`
}

const TokenExp = 24 * time.Hour

func BuildJWT(secret []byte, affiliateCode string) (string, error) {
	tkn := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenExp)),
		},
		AffiliateCode: affiliateCode,
	})
	return tkn.SignedString(secret)
}

func GetAffiliateCode(secret []byte, tokenString string) (string, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !tkn.Valid {
		return "", errors.New("token is not valid")
	}
	if claims.AffiliateCode == "" {
		return "", errors.New("token without affiliate code")
	}
	return claims.AffiliateCode, nil
}
