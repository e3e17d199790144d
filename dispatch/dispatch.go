// Package dispatch provides the long-lived outbound HTTP clients used by
// every engine. Each client enforces the egress policy: TLS posture,
// optional proxy tunneling, and a guard that refuses connections into
// private address ranges.
package dispatch

import (
	"context"
	stdtls "crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/netip"
	"net/url"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/publicsuffix"

	"github.com/use-agent/harvest/models"
)

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to
// http/1.1 only. Computed once at init time and reused for every
// connection; Go's http.Transport cannot speak h2 over a utls conn.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// Options configures a Dispatcher.
type Options struct {
	ProxyServer   string
	ProxyUsername string
	ProxyPassword string

	// AllowLocal permits egress to private address ranges.
	AllowLocal bool
}

type clientKey struct {
	skipTLS      bool
	allowCookies bool
}

// Dispatcher owns the four outbound clients indexed by
// {skipTLS, allowCookies}. It is safe for concurrent use.
type Dispatcher struct {
	clients    map[clientKey]*http.Client
	allowLocal bool
	proxyURL   *url.URL
}

// New builds the four clients. Returns ProxySelectionError when the
// configured proxy URI does not parse.
func New(opts Options) (*Dispatcher, error) {
	var proxyURL *url.URL
	if opts.ProxyServer != "" {
		u, err := url.Parse(opts.ProxyServer)
		if err != nil || u.Scheme == "" {
			return nil, models.NewHarvestError(models.ErrCodeProxySelection,
				fmt.Sprintf("invalid proxy server %q", opts.ProxyServer), err)
		}
		if opts.ProxyUsername != "" {
			u.User = url.UserPassword(opts.ProxyUsername, opts.ProxyPassword)
		}
		proxyURL = u
	}

	d := &Dispatcher{
		clients:    make(map[clientKey]*http.Client, 4),
		allowLocal: opts.AllowLocal,
		proxyURL:   proxyURL,
	}

	for _, skipTLS := range []bool{false, true} {
		for _, allowCookies := range []bool{false, true} {
			client, err := d.newClient(skipTLS, allowCookies)
			if err != nil {
				return nil, err
			}
			d.clients[clientKey{skipTLS, allowCookies}] = client
		}
	}
	return d, nil
}

// Client returns the long-lived client for the given flag combination.
func (d *Dispatcher) Client(skipTLS, allowCookies bool) *http.Client {
	return d.clients[clientKey{skipTLS, allowCookies}]
}

func (d *Dispatcher) newClient(skipTLS, allowCookies bool) (*http.Client, error) {
	transport := &http.Transport{
		DialContext:       d.guardedDial,
		ForceAttemptHTTP2: false,
		MaxIdleConns:      64,
		IdleConnTimeout:   90 * time.Second,
	}

	if d.proxyURL != nil {
		// Tunneled traffic keeps standard TLS so verification is
		// preserved end to end; the guard inspects the proxy hop.
		transport.Proxy = http.ProxyURL(d.proxyURL)
		transport.TLSClientConfig = &stdtls.Config{InsecureSkipVerify: skipTLS}
	} else {
		transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return d.dialTLSChrome(ctx, network, addr, skipTLS)
		}
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	if allowCookies {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, models.NewHarvestError(models.ErrCodeInternal, "cookie jar init", err)
		}
		client.Jar = jar
	}
	return client, nil
}

// guardedDial establishes a TCP connection and inspects the remote
// address before handing the socket to the transport.
func (d *Dispatcher) guardedDial(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if err := d.checkRemote(conn.RemoteAddr()); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// dialTLSChrome establishes a TLS connection with a Chrome fingerprint
// via utls, applying the same remote-address guard.
func (d *Dispatcher) dialTLSChrome(ctx context.Context, network, addr string, skipVerify bool) (net.Conn, error) {
	rawConn, err := d.guardedDial(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.UClient(rawConn, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: skipVerify,
	}, tls.HelloCustom)
	if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("dispatch: apply tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// checkRemote refuses addresses in non-unicast and private ranges
// unless local egress is explicitly allowed.
func (d *Dispatcher) checkRemote(remote net.Addr) error {
	if d.allowLocal {
		return nil
	}
	tcpAddr, ok := remote.(*net.TCPAddr)
	if !ok {
		return nil
	}
	ip, ok := netip.AddrFromSlice(tcpAddr.IP)
	if !ok {
		return nil
	}
	ip = ip.Unmap()
	if isDisallowed(ip) {
		return models.NewHarvestError(models.ErrCodeInsecureConnection,
			fmt.Sprintf("connection to %s refused: private address range", ip), nil)
	}
	return nil
}

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"),  // CGNAT
	netip.MustParsePrefix("192.0.0.0/24"),   // IETF protocol assignments
	netip.MustParsePrefix("198.18.0.0/15"),  // benchmarking
	netip.MustParsePrefix("240.0.0.0/4"),    // reserved
	netip.MustParsePrefix("fc00::/7"),       // IPv6 unique local
	netip.MustParsePrefix("64:ff9b:1::/48"), // local-use translation
}

func isDisallowed(ip netip.Addr) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return true
	}
	for _, p := range reservedPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
