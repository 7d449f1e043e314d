// Package oauth2 caches the bearer token used against the benefits provider.
//
// The token comes from a client-credentials GET against the security token
// service, authenticated with the service user's basic credentials:
//
//	GET <base>/token?grant_type=client_credentials&scope=openid
//	Authorization: Basic base64(username:password)
//
// A token is handed out until ExpiryMargin before the lifetime the service
// declared. The first token is fetched by NewTokenCache itself.
//
//	tokens, err := oauth2.NewTokenCache(ctx, oauth2.TokenCacheConfig{
//	    BaseURL:  "http://security-token-service",
//	    Username: user,
//	    Password: pass,
//	}, client)
//	token, err := tokens.Token(ctx)
//
// Every failure is reported as an authentication AppError.
package oauth2
