package utils

import "testing"

func TestRelayTokenRoundTrip(t *testing.T) {
	token, err := RelayTokenGenerate("shop-1", "device-1")
	if err != nil {
		t.Fatalf("RelayTokenGenerate: %v", err)
	}

	parsed, err := RelayTokenValidate(token)
	if err != nil {
		t.Fatalf("RelayTokenValidate: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("token not valid")
	}
	claims, ok := parsed.Claims.(*RelayClaim)
	if !ok {
		t.Fatalf("claims type = %T", parsed.Claims)
	}
	if claims.ShopId != "shop-1" || claims.DeviceId != "device-1" {
		t.Fatalf("claims = %+v, want shop-1/device-1", claims)
	}
	if claims.ExpiresAt <= claims.IssuedAt {
		t.Fatal("token must expire after issuance")
	}
}

func TestRelayTokenRejectsTampering(t *testing.T) {
	token, err := RelayTokenGenerate("shop-1", "device-1")
	if err != nil {
		t.Fatalf("RelayTokenGenerate: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	parsed, err := RelayTokenValidate(tampered)
	if err == nil && parsed.Valid {
		t.Fatal("tampered token accepted")
	}
}
