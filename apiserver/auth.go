package apiserver

import (
	"bytes"
	cryptorand "crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/dgrijalva/jwt-go/request"
	log "github.com/sirupsen/logrus"
)

// auth holds the RSA keypair used to sign and verify promote API
// tokens, generated once at server startup.
type auth struct {
	signingKey      []byte
	verificationKey []byte
}

func newAuth() (*auth, error) {
	privKey, err := rsa.GenerateKey(cryptorand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("apiserver: generating signing key: %w", err)
	}

	privBuf := new(bytes.Buffer)
	if err := pem.Encode(privBuf, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privKey)}); err != nil {
		return nil, err
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&privKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("apiserver: marshalling public key: %w", err)
	}
	pubBuf := new(bytes.Buffer)
	if err := pem.Encode(pubBuf, &pem.Block{Type: "RSA PUBLIC KEY", Bytes: pubBytes}); err != nil {
		return nil, err
	}

	return &auth{signingKey: privBuf.Bytes(), verificationKey: pubBuf.Bytes()}, nil
}

// issueToken mints a short-lived RS256-signed JWT for a successfully
// authenticated user.
func (a *auth) issueToken(username string) (string, error) {
	signer := jwt.New(jwt.SigningMethodRS256)
	claims := signer.Claims.(jwt.MapClaims)
	claims["sub"] = username
	claims["exp"] = time.Now().Add(1 * time.Hour).Unix()

	sk, err := jwt.ParseRSAPrivateKeyFromPEM(a.signingKey)
	if err != nil {
		return "", err
	}
	return signer.SignedString(sk)
}

// validateTokenMiddleware rejects requests without a valid bearer
// token; it has the negroni.HandlerFunc shape used throughout the
// router.
func (a *auth) validateTokenMiddleware(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	_, err := request.ParseFromRequest(r, request.AuthorizationHeaderExtractor, func(t *jwt.Token) (interface{}, error) {
		return jwt.ParseRSAPublicKeyFromPEM(a.verificationKey)
	})
	if err != nil {
		log.WithError(err).Warn("rejected unauthenticated request")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	next(w, r)
}
