// Package auth verifies bearer tokens for the solver API.
package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"cvrpbc/internal/config"
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("bad signature")
	ErrExpired        = errors.New("token expired")
	ErrNotYetValid    = errors.New("token not yet valid")
	ErrMissingTenant  = errors.New("missing tenant claim")
	ErrUnknownKey     = errors.New("kid not found in JWKS")
)

// clockSkew is tolerated on exp and nbf.
const clockSkew = 30 * time.Second

// Principal is who a token speaks for.
type Principal struct {
	Tenant  string
	Role    string
	Subject string
}

// Verifier validates bearer tokens and extracts tenant/role claims.
// Modes: dev (tenant:role, unverified), hmac (HS256), jwks (RS256).
type Verifier struct {
	mode        string
	secret      []byte
	jwksURL     string
	tenantClaim string
	roleClaim   string

	http     *http.Client
	cacheTTL time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func NewVerifier(cfg config.AuthConfig) *Verifier {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		mode:        mode,
		secret:      []byte(cfg.HMACSecret),
		jwksURL:     cfg.JWKSURL,
		tenantClaim: orDefault(cfg.TenantClaim, "tenant"),
		roleClaim:   orDefault(cfg.RoleClaim, "role"),
		http:        &http.Client{Timeout: 5 * time.Second},
		cacheTTL:    10 * time.Minute,
		now:         time.Now,
	}
}

func orDefault(v, d string) string {
	if v != "" {
		return v
	}
	return d
}

// Mode is the normalized verification mode.
func (v *Verifier) Mode() string { return v.mode }

// token is a decoded compact JWS.
type token struct {
	alg, kid     string
	claims       map[string]any
	signingInput []byte
	sig          []byte
}

func parseToken(raw string) (token, error) {
	segs := strings.Split(raw, ".")
	if len(segs) != 3 {
		return token{}, ErrMalformedToken
	}
	var parts [3][]byte
	for i, s := range segs {
		b, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return token{}, fmt.Errorf("%w: segment %d: %v", ErrMalformedToken, i, err)
		}
		parts[i] = b
	}
	var hdr struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(parts[0], &hdr); err != nil {
		return token{}, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	t := token{alg: hdr.Alg, kid: hdr.Kid, signingInput: []byte(segs[0] + "." + segs[1]), sig: parts[2]}
	if err := json.Unmarshal(parts[1], &t.claims); err != nil {
		return token{}, fmt.Errorf("%w: claims: %v", ErrMalformedToken, err)
	}
	return t, nil
}

func (v *Verifier) Verify(raw string) (Principal, error) {
	if v.mode == "dev" {
		tenant, role, ok := strings.Cut(raw, ":")
		if !ok || tenant == "" {
			return Principal{}, errors.New("invalid dev token; expected tenant:role")
		}
		return Principal{Tenant: tenant, Role: strings.ToLower(role)}, nil
	}
	t, err := parseToken(raw)
	if err != nil {
		return Principal{}, err
	}
	if err := v.checkSignature(t); err != nil {
		return Principal{}, err
	}
	return v.principal(t.claims)
}

func (v *Verifier) checkSignature(t token) error {
	switch v.mode {
	case "hmac":
		if t.alg != "HS256" {
			return fmt.Errorf("unsupported alg %q for hmac", t.alg)
		}
		mac := hmac.New(sha256.New, v.secret)
		mac.Write(t.signingInput)
		if !hmac.Equal(mac.Sum(nil), t.sig) {
			return ErrBadSignature
		}
	case "jwks":
		if t.alg != "RS256" {
			return fmt.Errorf("unsupported alg %q for jwks", t.alg)
		}
		pub, err := v.key(t.kid)
		if err != nil {
			return err
		}
		h := sha256.Sum256(t.signingInput)
		if rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], t.sig) != nil {
			return ErrBadSignature
		}
	default:
		return fmt.Errorf("unsupported auth mode %q", v.mode)
	}
	return nil
}

func (v *Verifier) principal(claims map[string]any) (Principal, error) {
	now := v.now()
	if exp, ok := claims["exp"].(float64); ok && now.After(time.Unix(int64(exp), 0).Add(clockSkew)) {
		return Principal{}, ErrExpired
	}
	if nbf, ok := claims["nbf"].(float64); ok && now.Add(clockSkew).Before(time.Unix(int64(nbf), 0)) {
		return Principal{}, ErrNotYetValid
	}
	tenant, _ := claims[v.tenantClaim].(string)
	if tenant == "" {
		return Principal{}, ErrMissingTenant
	}
	role, _ := claims[v.roleClaim].(string)
	if role == "" {
		role = "viewer"
	}
	sub, _ := claims["sub"].(string)
	return Principal{Tenant: tenant, Role: strings.ToLower(role), Subject: sub}, nil
}

// key returns the RSA key for kid, refetching the JWKS when the cache is
// stale or misses kid.
func (v *Verifier) key(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	pub, ok := v.keys[kid]
	fresh := v.now().Sub(v.fetched) < v.cacheTTL
	v.mu.RUnlock()
	if ok && fresh {
		return pub, nil
	}
	if err := v.refresh(); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if pub, ok := v.keys[kid]; ok {
		return pub, nil
	}
	return nil, ErrUnknownKey
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("jwk %s: modulus: %w", k.Kid, err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("jwk %s: exponent: %w", k.Kid, err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("jwk %s: exponent out of range", k.Kid)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}

func (v *Verifier) refresh() error {
	if v.jwksURL == "" {
		return errors.New("jwks url not configured")
	}
	resp, err := v.http.Get(v.jwksURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: status %d", resp.StatusCode)
	}
	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return err
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		pub, err := k.rsaKey()
		if err != nil {
			return err
		}
		keys[k.Kid] = pub
	}
	v.mu.Lock()
	v.keys = keys
	v.fetched = v.now()
	v.mu.Unlock()
	return nil
}
