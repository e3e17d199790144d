package dispatch

import (
	stdtls "crypto/tls"
	"crypto/x509"
	"errors"
	"net"

	"github.com/use-agent/harvest/models"
)

// Normalize maps raw transport failures onto the stable error taxonomy:
// certificate problems become SSLError, DNS failures DNSResolutionError,
// guard refusals keep their InsecureConnectionError code. Anything else
// is returned unchanged for the engine layer to classify.
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	var he *models.HarvestError
	if errors.As(err, &he) {
		return he
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return models.NewHarvestError(models.ErrCodeDNSResolution, dnsErr.Error(), err)
	}

	var certVerify *stdtls.CertificateVerificationError
	var certInvalid x509.CertificateInvalidError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certVerify) || errors.As(err, &certInvalid) ||
		errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) {
		return models.NewHarvestError(models.ErrCodeSSL, "tls certificate verification failed", err)
	}

	return err
}
