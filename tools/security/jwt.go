package security

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"PPresence/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 2h）
}

type JWTClaims struct {
	jwtlib.MapClaims
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

func Generate(opts Options, userID int64, scopes []string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	if len(scopes) > 0 {
		claims["scope"] = scopes
	}

	tok := jwtlib.NewWithClaims(method, claims)
	signed, err := tok.SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses and validates token. Failures come back as errs token codes.
func Verify(opts Options, token string) (*JWTClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errs.ErrTokenMissing.Wrap()
	}
	if _, err := signingMethod(opts.Alg); err != nil {
		return nil, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// 仅允许 HMAC 家族
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, errs.ErrTokenExpired.WrapMsg(err.Error())
		}
		return nil, errs.ErrTokenInvalid.WrapMsg(err.Error())
	}
	if !parsed.Valid {
		return nil, errs.ErrTokenInvalid.WrapMsg("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errs.ErrTokenInvalid.WrapMsg("claims type mismatch")
	}
	return &JWTClaims{claims}, nil
}

// UserID returns the numeric subject.
func (c *JWTClaims) UserID() (int64, error) {
	sub, err := c.GetSubject()
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, errs.ErrTokenInvalid.WrapMsg("subject is not a user id", "sub", sub)
	}
	return id, nil
}

func (c *JWTClaims) HasScope(scope string) bool {
	raw, ok := c.MapClaims["scope"]
	if !ok {
		return false
	}
	switch v := raw.(type) {
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok && str == scope {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if s == scope {
				return true
			}
		}
	case string:
		for _, s := range strings.Fields(v) {
			if s == scope {
				return true
			}
		}
	}
	return false
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
