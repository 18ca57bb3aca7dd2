package credentials

import (
	"crypto/sha1" //nolint:gosec // thumbprints are SHA-1 by definition
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"
)

type certificateInfo struct {
	thumbprint string
	notAfter   time.Time
}

// describeCertificate accepts a PEM bundle, a base64 encoded PKCS#12
// bundle or raw PKCS#12 bytes. It returns the bytes to hand over to check
// scripts together with the thumbprint and expiry of the leaf certificate.
func describeCertificate(raw []byte, password string) ([]byte, certificateInfo, error) {
	if len(raw) == 0 {
		return nil, certificateInfo{}, errors.New("empty certificate")
	}

	if block, _ := pem.Decode(raw); block != nil {
		cert, err := firstPEMCertificate(raw)
		if err != nil {
			return raw, certificateInfo{}, err
		}
		return raw, infoOf(cert), nil
	}

	der := raw
	if decoded, err := base64.StdEncoding.DecodeString(string(raw)); err == nil {
		der = decoded
	}

	_, cert, err := pkcs12.Decode(der, password)
	if err != nil {
		return der, certificateInfo{}, fmt.Errorf("cannot decode PKCS#12 certificate: %w", err)
	}
	return der, infoOf(cert), nil
}

func firstPEMCertificate(certPEM []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, certPEM = pem.Decode(certPEM)
		if block == nil {
			return nil, errors.New("no CERTIFICATE block found in PEM data")
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("error parsing certificate: %w", err)
		}
		return cert, nil
	}
}

func infoOf(cert *x509.Certificate) certificateInfo {
	sum := sha1.Sum(cert.Raw) //nolint:gosec // see import
	return certificateInfo{
		thumbprint: strings.ToUpper(hex.EncodeToString(sum[:])),
		notAfter:   cert.NotAfter,
	}
}
