package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// DefaultIPFSGateway resolves ipfs:// registration file URIs.
const DefaultIPFSGateway = "https://ipfs.io"

// maxRegistrationFileSize bounds registration file downloads.
const maxRegistrationFileSize = 1 << 20

// ErrNonPublicAddress is returned when an agent-supplied registration file host
// resolves to a loopback, private, link-local or unspecified address.
var ErrNonPublicAddress = errors.New("registration file host is not a public address")

// RegistrationFile is the subset of an ERC-8004 agent registration file read here.
type RegistrationFile struct {
	Type        string `json:"type,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	// Active is the agent's self-declared activity flag. Missing means active.
	Active *bool `json:"active,omitempty"`
}

// IsActive returns the active flag, defaulting to true.
func (f *RegistrationFile) IsActive() bool {
	return f.Active == nil || *f.Active
}

// MetadataFetcher resolves registration file URIs (data:, https:, ipfs:).
type MetadataFetcher struct {
	IPFSGateway string

	// Client fetches https URIs chosen by agents.
	Client *http.Client

	// GatewayClient fetches ipfs URIs through IPFSGateway.
	GatewayClient *http.Client
}

// NewMetadataFetcher creates a MetadataFetcher. An empty gateway uses DefaultIPFSGateway.
func NewMetadataFetcher(ipfsGateway string) *MetadataFetcher {
	if ipfsGateway == "" {
		ipfsGateway = DefaultIPFSGateway
	}
	return &MetadataFetcher{
		IPFSGateway:   strings.TrimSuffix(ipfsGateway, "/"),
		Client:        NewPublicHTTPClient(10 * time.Second),
		GatewayClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewPublicHTTPClient returns a client that only dials public IP addresses and
// only follows https redirects.
func NewPublicHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control:   denyNonPublic,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Scheme != "https" {
				return fmt.Errorf("redirect to %s URL refused", req.URL.Scheme)
			}
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}

// denyNonPublic runs after DNS resolution, so address is always an IP.
func denyNonPublic(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return err
	}
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return fmt.Errorf("%w: %s", ErrNonPublicAddress, ip)
	}
	return nil
}

// Fetch resolves and decodes the registration file at uri.
func (m *MetadataFetcher) Fetch(ctx context.Context, uri string) (*RegistrationFile, error) {
	var data []byte
	var err error

	switch {
	case strings.HasPrefix(uri, "data:"):
		data, err = decodeDataURI(uri)
	case strings.HasPrefix(uri, "ipfs://"):
		cid := strings.TrimPrefix(uri, "ipfs://")
		if cid == "" || strings.Contains(cid, "..") {
			return nil, fmt.Errorf("malformed ipfs URI: %q", uri)
		}
		data, err = m.get(ctx, m.GatewayClient, m.IPFSGateway+"/ipfs/"+cid)
	case strings.HasPrefix(uri, "https://"):
		data, err = m.get(ctx, m.Client, uri)
	default:
		return nil, fmt.Errorf("unsupported registration URI scheme: %q", uri)
	}
	if err != nil {
		return nil, err
	}

	var f RegistrationFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode registration file: %w", err)
	}
	return &f, nil
}

func (m *MetadataFetcher) get(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch registration file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registration file host returned status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxRegistrationFileSize))
}

// decodeDataURI decodes data:[<mediatype>][;base64],<data>.
func decodeDataURI(uri string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URI")
	}
	if strings.HasSuffix(header, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("malformed base64 data URI: %w", err)
		}
		return data, nil
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed data URI: %w", err)
	}
	return []byte(decoded), nil
}
