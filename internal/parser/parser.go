package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"nodesieve/internal/domain"
	"nodesieve/internal/support"
)

const defaultTLSPort = 443

// Parse converts one protocol-prefixed descriptor into a Node. Malformed
// input returns an error; callers count rejects instead of aborting.
func Parse(raw string) (*domain.Node, error) {
	raw = strings.TrimSpace(raw)

	scheme, rest, found := strings.Cut(raw, "://")
	if !found || rest == "" {
		return nil, errors.New("missing scheme")
	}

	protocol := domain.Protocol(strings.ToLower(scheme))
	switch protocol {
	case domain.ProtocolVMess:
		return parseVMess(raw, rest)
	case domain.ProtocolVLESS, domain.ProtocolTrojan:
		return parseURLForm(raw, protocol)
	case domain.ProtocolSS:
		return parseSS(raw, rest)
	case domain.ProtocolSSR:
		return parseSSR(raw, rest)
	case domain.ProtocolHysteria, domain.ProtocolHysteria2:
		return parseURLForm(raw, protocol)
	default:
		return nil, fmt.Errorf("unknown protocol %q", scheme)
	}
}

// ParseAll converts raw descriptor lines into Nodes and reports how many
// were dropped as malformed.
func ParseAll(lines []string) ([]*domain.Node, int) {
	nodes := make([]*domain.Node, 0, len(lines))
	malformed := 0

	for _, line := range lines {
		node, err := Parse(line)
		if err != nil {
			malformed++
			continue
		}
		nodes = append(nodes, node)
	}

	return nodes, malformed
}

// FilterProtocols keeps only nodes whose protocol appears in allowed,
// preserving input order.
func FilterProtocols(nodes []*domain.Node, allowed []domain.Protocol) []*domain.Node {
	if len(allowed) == 0 {
		return nodes
	}

	keep := make(map[domain.Protocol]struct{}, len(allowed))
	for _, protocol := range allowed {
		keep[protocol] = struct{}{}
	}

	out := make([]*domain.Node, 0, len(nodes))
	for _, node := range nodes {
		if _, ok := keep[node.Protocol]; ok {
			out = append(out, node)
		}
	}
	return out
}

type vmessPayload struct {
	Add  string     `json:"add"`
	Port flexString `json:"port"`
	ID   string     `json:"id"`
	Net  string     `json:"net"`
	TLS  flexString `json:"tls"`
	PS   string     `json:"ps"`
}

func parseVMess(raw, rest string) (*domain.Node, error) {
	body := rest
	if i := strings.IndexByte(body, '#'); i >= 0 {
		body = body[:i]
	}

	decoded, err := support.DecodeBase64Loose(body)
	if err != nil {
		return nil, fmt.Errorf("vmess payload: %w", err)
	}

	var payload vmessPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("vmess json: %w", err)
	}

	host := strings.TrimSpace(payload.Add)
	if host == "" {
		return nil, errors.New("vmess: missing host")
	}
	port, err := parsePort(payload.Port.String())
	if err != nil {
		return nil, fmt.Errorf("vmess: %w", err)
	}

	network := payload.Net
	if network == "" {
		network = "tcp"
	}

	return &domain.Node{
		Raw:      raw,
		Protocol: domain.ProtocolVMess,
		Host:     host,
		Port:     port,
		Name:     payload.PS,
		Params: domain.VMessParams{
			ID:       payload.ID,
			Network:  network,
			Security: payload.TLS.String(),
		},
	}, nil
}

// parseURLForm covers the vless, trojan, hysteria and hysteria2 links, which
// all follow scheme://credential@host:port?query#name with 443 implied.
func parseURLForm(raw string, protocol domain.Protocol) (*domain.Node, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s link: %w", protocol, err)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%s: missing host", protocol)
	}

	port := uint16(defaultTLSPort)
	if portRaw := parsed.Port(); portRaw != "" {
		port, err = parsePort(portRaw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", protocol, err)
		}
	}

	credential := ""
	if parsed.User != nil {
		credential = parsed.User.String()
	}
	query := parsed.Query()

	var params domain.Params
	switch protocol {
	case domain.ProtocolVLESS:
		params = domain.VLESSParams{
			ID:       credential,
			Flow:     query.Get("flow"),
			Security: query.Get("security"),
		}
	case domain.ProtocolTrojan:
		params = domain.TrojanParams{
			Password: credential,
			SNI:      query.Get("sni"),
		}
	case domain.ProtocolHysteria, domain.ProtocolHysteria2:
		auth := credential
		if auth == "" {
			auth = query.Get("auth")
		}
		params = domain.HysteriaParams{Auth: auth}
	default:
		return nil, fmt.Errorf("%s: not a url-form protocol", protocol)
	}

	return &domain.Node{
		Raw:      raw,
		Protocol: protocol,
		Host:     host,
		Port:     port,
		Name:     parsed.Fragment,
		Params:   params,
	}, nil
}

func parseSS(raw, rest string) (*domain.Node, error) {
	body, fragment := splitFragment(rest)

	if strings.Contains(body, "@") {
		return parseSSModern(raw)
	}
	if unescaped, err := url.PathUnescape(fragment); err == nil {
		fragment = unescaped
	}
	return parseSSLegacy(raw, body, fragment)
}

// parseSSModern handles SIP002 links: ss://base64(method:password)@host:port.
func parseSSModern(raw string) (*domain.Node, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("ss link: %w", err)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, errors.New("ss: missing host")
	}
	port, err := parsePort(parsed.Port())
	if err != nil {
		return nil, fmt.Errorf("ss: %w", err)
	}

	userinfo := ""
	if parsed.User != nil {
		userinfo = parsed.User.String()
	}

	method, password := splitCredential(userinfo)
	if method == "" {
		return nil, errors.New("ss: missing credential")
	}

	return &domain.Node{
		Raw:      raw,
		Protocol: domain.ProtocolSS,
		Host:     host,
		Port:     port,
		Name:     parsed.Fragment,
		Params:   domain.SSParams{Method: method, Password: password},
	}, nil
}

// parseSSLegacy handles ss://base64(method:password@host:port) links.
func parseSSLegacy(raw, body, name string) (*domain.Node, error) {
	decoded, err := support.DecodeBase64Loose(body)
	if err != nil {
		return nil, fmt.Errorf("ss payload: %w", err)
	}

	plain := string(decoded)
	at := strings.LastIndexByte(plain, '@')
	if at < 0 {
		return nil, errors.New("ss: missing address")
	}

	host, portRaw, err := net.SplitHostPort(plain[at+1:])
	if err != nil {
		return nil, fmt.Errorf("ss address: %w", err)
	}
	port, err := parsePort(portRaw)
	if err != nil {
		return nil, fmt.Errorf("ss: %w", err)
	}

	method, password, found := strings.Cut(plain[:at], ":")
	if !found || method == "" {
		return nil, errors.New("ss: missing credential")
	}

	return &domain.Node{
		Raw:      raw,
		Protocol: domain.ProtocolSS,
		Host:     host,
		Port:     port,
		Name:     name,
		Params:   domain.SSParams{Method: method, Password: password},
	}, nil
}

// parseSSR handles ssr://base64(host:port:protocol:method:obfs:base64(pass)/?...).
func parseSSR(raw, rest string) (*domain.Node, error) {
	decoded, err := support.DecodeBase64Loose(rest)
	if err != nil {
		return nil, fmt.Errorf("ssr payload: %w", err)
	}

	body := string(decoded)
	name := ""
	if i := strings.Index(body, "/?"); i >= 0 {
		if values, err := url.ParseQuery(body[i+2:]); err == nil {
			if remarks, err := support.DecodeBase64Loose(values.Get("remarks")); err == nil {
				name = string(remarks)
			}
		}
		body = body[:i]
	}

	parts := strings.Split(body, ":")
	if len(parts) < 6 {
		return nil, errors.New("ssr: truncated link")
	}

	// IPv6 hosts contain colons, so take the five fixed fields from the tail.
	tail := parts[len(parts)-5:]
	host := strings.Join(parts[:len(parts)-5], ":")
	if host == "" {
		return nil, errors.New("ssr: missing host")
	}

	port, err := parsePort(tail[0])
	if err != nil {
		return nil, fmt.Errorf("ssr: %w", err)
	}

	password, err := support.DecodeBase64Loose(tail[4])
	if err != nil {
		return nil, fmt.Errorf("ssr password: %w", err)
	}

	return &domain.Node{
		Raw:      raw,
		Protocol: domain.ProtocolSSR,
		Host:     host,
		Port:     port,
		Name:     name,
		Params: domain.SSRParams{
			Method:   tail[2],
			Password: string(password),
			Protocol: tail[1],
			Obfs:     tail[3],
		},
	}, nil
}

func splitFragment(s string) (body, fragment string) {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// splitCredential decodes a SIP002 userinfo segment, accepting both base64
// and plain method:password forms.
func splitCredential(userinfo string) (method, password string) {
	if decoded, err := support.DecodeBase64Loose(userinfo); err == nil && strings.ContainsRune(string(decoded), ':') {
		userinfo = string(decoded)
	}

	method, password, found := strings.Cut(userinfo, ":")
	if !found {
		return userinfo, ""
	}
	return method, password
}

func parsePort(raw string) (uint16, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", raw)
	}
	return uint16(port), nil
}

// flexString absorbs JSON values that appear as strings, numbers or booleans
// across subscription generators.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*f = flexString(asString)
		return nil
	}

	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err == nil {
		*f = flexString(asNumber.String())
		return nil
	}

	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		if asBool {
			*f = "true"
		} else {
			*f = ""
		}
		return nil
	}

	return fmt.Errorf("unsupported value %s", string(data))
}

func (f flexString) String() string {
	return string(f)
}
