package utils

import (
	"fmt"
	"os"
	"time"

	"github.com/dgrijalva/jwt-go"
)

type RelayClaim struct {
	ShopId   string `json:"shopId"`
	DeviceId string `json:"deviceId"`
	jwt.StandardClaims
}

var relaySecret = []byte(getRelaySecret())

func getRelaySecret() string {
	secret := os.Getenv("RELAY_SECRET")
	if secret == "" {
		return "MKitchen-Relay-Secret"
	}
	return secret
}

// RelayTokenGenerate mints the short-lived bearer the realtime publisher sends
// to the relay. The relay only checks shop ownership, so a small lifespan keeps
// a leaked token from outliving the shift it was minted in.
func RelayTokenGenerate(shopId string, deviceId string) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &RelayClaim{
		ShopId:   shopId,
		DeviceId: deviceId,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})

	token, err := t.SignedString(relaySecret)
	if err != nil {
		return "", err
	}

	return token, nil
}

func RelayTokenValidate(token string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, &RelayClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return relaySecret, nil
	})
}
