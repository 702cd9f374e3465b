package app

import "errors"

// ValidateSecurityConfig enforces parley's security policy at startup.
//
//   - A deployment that requires a signing secret must not fall back to a
//     random key that invalidates every token on restart.
//   - Anonymous websocket sessions with the origin check disabled are refused
//     on the postgres store.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.RequireJWTSecret && cfg.JWTSecret == "" {
		return errors.New("security policy: PARLEY_REQUIRE_JWT_SECRET=true but PARLEY_JWT_SECRET is missing")
	}
	if cfg.WSDevInsecure && !cfg.WSRequireAuth && cfg.Store == StorePostgres {
		return errors.New("security policy: PARLEY_WS_DEV_INSECURE with anonymous sessions is not allowed on the postgres store")
	}
	return nil
}
