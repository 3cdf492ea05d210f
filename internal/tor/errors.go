package tor

import "errors"

var (
	ErrProxyNotTor         = errors.New("proxy is not a Tor SOCKS5 proxy")
	ErrProxyCannotConnect  = errors.New("cannot connect to Tor proxy")
	ErrProxyTimeout        = errors.New("timeout connecting to Tor proxy")
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")
	ErrNotRunning          = errors.New("embedded Tor daemon is not running")
	errUnknownProxyStatus  = errors.New("unknown proxy status")
)

// ProxyStatus is the outcome of CheckConnection.
type ProxyStatus int

const (
	ProxyStatusOK ProxyStatus = iota
	ProxyStatusWrongType
	ProxyStatusCannotConnect
	ProxyStatusTimeout
)

var proxyStatuses = map[ProxyStatus]struct {
	text string
	err  error
}{
	ProxyStatusOK:            {"OK", nil},
	ProxyStatusWrongType:     {"wrong type (not Tor)", ErrProxyNotTor},
	ProxyStatusCannotConnect: {"cannot connect", ErrProxyCannotConnect},
	ProxyStatusTimeout:       {"timeout", ErrProxyTimeout},
}

func (s ProxyStatus) String() string {
	if st, ok := proxyStatuses[s]; ok {
		return st.text
	}
	return "unknown"
}

// Err returns the sentinel for s, nil when the proxy is usable.
func (s ProxyStatus) Err() error {
	if st, ok := proxyStatuses[s]; ok {
		return st.err
	}
	return errUnknownProxyStatus
}
