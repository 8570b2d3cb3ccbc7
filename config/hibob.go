package config

import (
	"errors"
	"os"
	"strings"
)

// HiBobCredentials is the narrowly-scoped credential object handed to the API
// client. It is resolved once per invocation, never cached in package state.
type HiBobCredentials struct {
	ServiceUserId string
	Token         string
}

const (
	redisKeyBobServiceUser = "bob:service_user_id"
	redisKeyBobToken       = "bob:service_user_token"
)

// ResolveHiBobCredentials reads the HiBob service-user credentials, preferring
// environment variables over the values stored via the connect endpoint.
func ResolveHiBobCredentials() (HiBobCredentials, error) {
	creds := HiBobCredentials{
		ServiceUserId: strings.TrimSpace(os.Getenv("BOB_SERVICE_USER_ID")),
		Token:         strings.TrimSpace(os.Getenv("BOB_SERVICE_USER_TOKEN")),
	}
	if creds.ServiceUserId == "" {
		if v, ok, err := GetRedisValue(redisKeyBobServiceUser); err == nil && ok {
			creds.ServiceUserId = strings.TrimSpace(v)
		}
	}
	if creds.Token == "" {
		if v, ok, err := GetRedisValue(redisKeyBobToken); err == nil && ok {
			creds.Token = strings.TrimSpace(v)
		}
	}
	if creds.ServiceUserId == "" || creds.Token == "" {
		return HiBobCredentials{}, errors.New("hibob service user credentials are not configured")
	}
	return creds, nil
}

// StoreHiBobCredentials persists credentials supplied through the connect
// endpoint. No expiry: these survive until an explicit disconnect.
func StoreHiBobCredentials(serviceUserId string, token string) error {
	if err := SetRedisValue(redisKeyBobServiceUser, strings.TrimSpace(serviceUserId), 0); err != nil {
		return err
	}
	return SetRedisValue(redisKeyBobToken, strings.TrimSpace(token), 0)
}

// ClearHiBobCredentials removes stored credentials on disconnect.
func ClearHiBobCredentials() error {
	return RemoveRedisKey(redisKeyBobServiceUser, redisKeyBobToken)
}
